package submission

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/noah-isme/gema-feedback-api/internal/evaluation"
	"github.com/noah-isme/gema-feedback-api/internal/models"
)

type essayHandler struct {
	base
	settings EssayConfig
}

func newEssayHandler(cfg models.SubmissionTypeConfig, _ Deps) (Handler, error) {
	handler := &essayHandler{base: base{config: cfg}}
	if err := decodeConfig(cfg.Code, cfg.Config, &handler.settings); err != nil {
		return nil, err
	}
	return handler, nil
}

func (h *essayHandler) Validate(_ context.Context, input Input) error {
	if err := h.validateInput(input, true); err != nil {
		return err
	}
	if h.settings.MinParagraphs > 0 {
		if count := len(paragraphs(NormalizeText(input.Content))); count < h.settings.MinParagraphs {
			return evaluation.NewValidationError("content", fmt.Sprintf("at least %d paragraphs required, got %d", h.settings.MinParagraphs, count))
		}
	}
	return nil
}

func (h *essayHandler) Preprocess(_ context.Context, input Input) (Preprocessed, error) {
	text := NormalizeText(input.Content)
	paras := paragraphs(text)
	words := CountWords(text)

	details := map[string]string{
		"paragraphs": strconv.Itoa(len(paras)),
		"word_count": strconv.Itoa(words),
		"sentences":  strconv.Itoa(countSentences(text)),
	}
	if h.settings.Genre != "" {
		details["genre"] = h.settings.Genre
	}

	return Preprocessed{
		Text:      text,
		WordCount: words,
		Context:   details,
		Metadata:  copyMetadata(input.Metadata),
	}, nil
}

func (h *essayHandler) BuildPrompt(rubric []models.RubricCategory, pre Preprocessed) string {
	return buildPrompt(promptParts{
		role:         "You are an experienced writing instructor giving formative feedback on a student essay.",
		task:         "Score the essay against each rubric category from 0 to 100 and list concrete strengths and improvements that quote or point at specific passages.",
		contentLabel: "Essay",
	}, rubric, pre)
}

func (h *essayHandler) FormatFeedback(raw string, _ map[string]interface{}) Display {
	return Display{Text: strings.TrimSpace(raw), Format: FormatPlain}
}

func paragraphs(text string) []string {
	blocks := strings.Split(text, "\n\n")
	result := make([]string, 0, len(blocks))
	for _, block := range blocks {
		if strings.TrimSpace(block) != "" {
			result = append(result, block)
		}
	}
	return result
}

func countSentences(text string) int {
	count := 0
	previousTerminal := false
	for _, r := range text {
		terminal := r == '.' || r == '!' || r == '?'
		if terminal && !previousTerminal {
			count++
		}
		previousTerminal = terminal
	}
	if count == 0 && strings.TrimSpace(text) != "" {
		return 1
	}
	return count
}
