package submission

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/noah-isme/gema-feedback-api/internal/evaluation"
	"github.com/noah-isme/gema-feedback-api/internal/models"
)

var (
	latexPattern    = regexp.MustCompile(`\$\$[^$]+\$\$|\$[^$\n]+\$|\\\(.+?\\\)|\\\[.+?\\\]`)
	stepNumberRegex = regexp.MustCompile(`(?i)^(step\s*\d+\s*[:.)]\s*|\d+[.)]\s+)`)
)

var operatorReplacer = strings.NewReplacer(
	"×", "*",
	"÷", "/",
	"−", "-",
	"≤", "<=",
	"≥", ">=",
	"≠", "!=",
	"√", "sqrt",
)

type mathHandler struct {
	base
	settings MathConfig
}

func newMathHandler(cfg models.SubmissionTypeConfig, _ Deps) (Handler, error) {
	handler := &mathHandler{base: base{config: cfg}}
	if err := decodeConfig(cfg.Code, cfg.Config, &handler.settings); err != nil {
		return nil, err
	}
	return handler, nil
}

func (h *mathHandler) Validate(_ context.Context, input Input) error {
	if err := h.validateInput(input, true); err != nil {
		return err
	}
	if h.settings.RequireSteps {
		minimum := h.settings.MinSteps
		if minimum <= 0 {
			minimum = 2
		}
		if count := len(mathSteps(input.Content)); count < minimum {
			return evaluation.NewValidationError("content", fmt.Sprintf("show at least %d solution steps, got %d", minimum, count))
		}
	}
	return nil
}

func (h *mathHandler) Preprocess(_ context.Context, input Input) (Preprocessed, error) {
	steps := mathSteps(input.Content)
	numbered := make([]string, len(steps))
	for i, step := range steps {
		numbered[i] = fmt.Sprintf("Step %d: %s", i+1, step)
	}
	text := strings.Join(numbered, "\n")

	latex := latexPattern.FindAllString(input.Content, -1)
	details := map[string]string{
		"steps":          strconv.Itoa(len(steps)),
		"latex_segments": strconv.Itoa(len(latex)),
	}
	metadata := copyMetadata(input.Metadata)
	metadata["uses_latex"] = len(latex) > 0

	return Preprocessed{
		Text:      text,
		WordCount: CountWords(input.Content),
		Context:   details,
		Metadata:  metadata,
	}, nil
}

func (h *mathHandler) BuildPrompt(rubric []models.RubricCategory, pre Preprocessed) string {
	return buildPrompt(promptParts{
		role:         "You are a mathematics teacher checking a student's worked solution.",
		task:         "Follow the numbered steps, verify each one, and score every rubric category from 0 to 100. Name the first incorrect step in improvements when there is one. LaTeX notation is preserved as written.",
		contentLabel: "Solution",
	}, rubric, pre)
}

// FormatFeedback keeps LaTeX intact; feedback containing math notation is returned as markdown so the
// renderer can typeset it.
func (h *mathHandler) FormatFeedback(raw string, metadata map[string]interface{}) Display {
	text := strings.TrimSpace(raw)
	format := FormatPlain
	if usesLatex, _ := metadata["uses_latex"].(bool); usesLatex || latexPattern.MatchString(text) {
		format = FormatMarkdown
	}
	return Display{Text: text, Format: format}
}

// mathSteps splits a solution into non-empty steps, dropping existing numbering and normalising
// unicode operators outside LaTeX segments.
func mathSteps(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")
	steps := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = stepNumberRegex.ReplaceAllString(line, "")
		steps = append(steps, normalizeOperators(strings.TrimSpace(line)))
	}
	return steps
}

func normalizeOperators(line string) string {
	segments := latexPattern.FindAllStringIndex(line, -1)
	if len(segments) == 0 {
		return operatorReplacer.Replace(line)
	}
	var sb strings.Builder
	last := 0
	for _, segment := range segments {
		sb.WriteString(operatorReplacer.Replace(line[last:segment[0]]))
		sb.WriteString(line[segment[0]:segment[1]])
		last = segment[1]
	}
	sb.WriteString(operatorReplacer.Replace(line[last:]))
	return sb.String()
}
