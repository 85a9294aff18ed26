package submission

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/noah-isme/gema-feedback-api/internal/evaluation"
	"github.com/noah-isme/gema-feedback-api/internal/models"
)

var whitespacePattern = regexp.MustCompile(`[ \t]+`)

// base carries the checks shared by every submission type.
type base struct {
	config models.SubmissionTypeConfig
}

func (b base) Code() string {
	return b.config.Code
}

// validateInput enforces the input kind, file limits and word limits of the type configuration.
// requireText is false for types that can derive their text later (video transcripts).
func (b base) validateInput(input Input, requireText bool) error {
	switch b.config.InputKind {
	case models.InputKindFile:
		if err := b.validateFile(input); err != nil {
			return err
		}
	default:
		requireText = true
	}

	text := strings.TrimSpace(input.Content)
	if text == "" {
		if requireText {
			return evaluation.NewValidationError("content", "content is required")
		}
		return nil
	}

	words := CountWords(text)
	if b.config.MinWords > 0 && words < b.config.MinWords {
		return evaluation.NewValidationError("content", fmt.Sprintf("at least %d words required, got %d", b.config.MinWords, words))
	}
	if b.config.MaxWords > 0 && words > b.config.MaxWords {
		return evaluation.NewValidationError("content", fmt.Sprintf("at most %d words allowed, got %d", b.config.MaxWords, words))
	}
	return nil
}

func (b base) validateFile(input Input) error {
	if strings.TrimSpace(input.FileRef) == "" && strings.TrimSpace(input.FilePath) == "" {
		return evaluation.NewValidationError("file", "a file is required for this submission type")
	}

	name := input.FileName
	if name == "" {
		name = filepath.Base(input.FilePath)
	}
	if name == "" || name == "." {
		name = input.FileRef
	}
	if !b.config.AllowsExtension(name) {
		return evaluation.NewValidationError("file", fmt.Sprintf("extension %q is not allowed", strings.ToLower(filepath.Ext(name))))
	}

	size := input.FileSize
	if input.FilePath != "" {
		info, err := os.Stat(input.FilePath)
		if err != nil {
			return evaluation.NewValidationError("file", "uploaded file cannot be read")
		}
		size = info.Size()
	}
	if b.config.MaxSizeBytes > 0 && size > b.config.MaxSizeBytes {
		return evaluation.NewValidationError("file", fmt.Sprintf("file exceeds %d bytes", b.config.MaxSizeBytes))
	}

	if input.FilePath != "" {
		return b.sniff(input.FilePath)
	}
	return nil
}

// sniff compares the detected MIME type with the allow-list. Textual files are accepted under any
// allowed extension since source and plain text formats share one detected type.
func (b base) sniff(path string) error {
	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return evaluation.NewValidationError("file", "uploaded file cannot be read")
	}
	if len(b.config.Extensions()) == 0 {
		return nil
	}
	for current := detected; current != nil; current = current.Parent() {
		if current.Is("text/plain") {
			return nil
		}
		if ext := current.Extension(); ext != "" && b.config.AllowsExtension("file"+ext) {
			return nil
		}
	}
	return evaluation.NewValidationError("file", fmt.Sprintf("detected type %s does not match the allowed extensions", detected.String()))
}

// CountWords counts whitespace separated words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// NormalizeText trims trailing spaces, collapses runs of blanks and keeps paragraph breaks.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(whitespacePattern.ReplaceAllString(line, " "))
	}
	joined := strings.Join(lines, "\n")
	for strings.Contains(joined, "\n\n\n") {
		joined = strings.ReplaceAll(joined, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(joined)
}

type promptParts struct {
	role         string
	task         string
	contentLabel string
	fence        string
}

const responseFormat = `Respond with JSON only, using this shape:
{"overall_score": <0-100>, "categories": [{"name": "<category name>", "score": <0-100>, "confidence": <0.0-1.0>, "strengths": ["..."], "improvements": ["..."]}]}
Include every rubric category exactly once and use the category names as written.`

func buildPrompt(parts promptParts, rubric []models.RubricCategory, pre Preprocessed) string {
	var sb strings.Builder
	sb.WriteString(parts.role)
	sb.WriteString("\n\n")
	sb.WriteString(parts.task)
	sb.WriteString("\n\nRubric:\n")

	ordered := append([]models.RubricCategory(nil), rubric...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Position != ordered[j].Position {
			return ordered[i].Position < ordered[j].Position
		}
		return ordered[i].ID < ordered[j].ID
	})
	for _, category := range ordered {
		fmt.Fprintf(&sb, "- %s (weight %g)", category.Name, category.Weight)
		if desc := strings.TrimSpace(category.Description); desc != "" {
			sb.WriteString(": ")
			sb.WriteString(desc)
		}
		sb.WriteString("\n")
	}

	if len(pre.Context) > 0 {
		sb.WriteString("\nContext:\n")
		keys := make([]string, 0, len(pre.Context))
		for key := range pre.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(&sb, "- %s: %s\n", key, pre.Context[key])
		}
	}

	sb.WriteString("\n")
	sb.WriteString(parts.contentLabel)
	sb.WriteString(":\n")
	if parts.fence != "" {
		sb.WriteString("```")
		sb.WriteString(parts.fence)
		sb.WriteString("\n")
		sb.WriteString(pre.Text)
		sb.WriteString("\n```\n")
	} else {
		sb.WriteString(pre.Text)
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(responseFormat)
	return sb.String()
}
