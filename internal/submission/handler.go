package submission

import (
	"context"

	"github.com/noah-isme/gema-feedback-api/internal/models"
)

// Display formats used by FormatFeedback.
const (
	FormatPlain    = "plain"
	FormatMarkdown = "markdown"
)

// ContextKey is the draft metadata key holding the preprocessing context.
const ContextKey = "context"

// Input is one incoming submission as handed over by the ingress collaborator. Content carries the
// already extracted plain text; file based types also reference the stored original.
type Input struct {
	Content  string
	FileRef  string
	FilePath string
	FileName string
	FileSize int64
	Metadata map[string]interface{}
}

// Preprocessed is the handler output that the prompt is built from.
type Preprocessed struct {
	Text      string
	WordCount int
	Context   map[string]string
	Metadata  map[string]interface{}
}

// Display is feedback text rendered for the student or reviewer.
type Display struct {
	Text   string `json:"text"`
	Format string `json:"format"`
}

// Handler validates, preprocesses and prompts one submission type. The pipeline calling it is the
// same for every type.
type Handler interface {
	Code() string
	Validate(ctx context.Context, input Input) error
	Preprocess(ctx context.Context, input Input) (Preprocessed, error)
	BuildPrompt(rubric []models.RubricCategory, pre Preprocessed) string
	FormatFeedback(raw string, metadata map[string]interface{}) Display
}

// Restore rebuilds the preprocessing result persisted on a draft so prompts can be rebuilt on retry
// without running the handler side effects again.
func Restore(draft models.Draft) Preprocessed {
	pre := Preprocessed{
		Text:      draft.Content,
		WordCount: draft.WordCount,
		Context:   map[string]string{},
		Metadata:  map[string]interface{}{},
	}
	for key, value := range draft.Metadata {
		if key == ContextKey {
			continue
		}
		pre.Metadata[key] = value
	}
	if stored, ok := draft.Metadata[ContextKey].(map[string]interface{}); ok {
		for key, value := range stored {
			if text, ok := value.(string); ok {
				pre.Context[key] = text
			}
		}
	}
	return pre
}

// Persistable flattens a preprocessing result into draft metadata.
func Persistable(pre Preprocessed) map[string]interface{} {
	metadata := make(map[string]interface{}, len(pre.Metadata)+1)
	for key, value := range pre.Metadata {
		metadata[key] = value
	}
	if len(pre.Context) > 0 {
		stored := make(map[string]interface{}, len(pre.Context))
		for key, value := range pre.Context {
			stored[key] = value
		}
		metadata[ContextKey] = stored
	}
	return metadata
}

func metadataString(metadata map[string]interface{}, key string) string {
	if metadata == nil {
		return ""
	}
	if value, ok := metadata[key].(string); ok {
		return value
	}
	return ""
}

func copyMetadata(metadata map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(metadata))
	for key, value := range metadata {
		if key == ContextKey {
			continue
		}
		result[key] = value
	}
	return result
}
