package submission

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-feedback-api/internal/evaluation"
	"github.com/noah-isme/gema-feedback-api/internal/models"
	"github.com/noah-isme/gema-feedback-api/pkg/docker"
)

const maxContextOutput = 2000

type languageRuntime struct {
	Image    string
	FileName string
	Command  []string
}

var languageRuntimes = map[string]languageRuntime{
	"python": {
		Image:    "python:3.11-alpine",
		FileName: "main.py",
		Command:  []string{"python", "main.py"},
	},
	"javascript": {
		Image:    "node:20-alpine",
		FileName: "main.js",
		Command:  []string{"node", "main.js"},
	},
	"go": {
		Image:    "golang:1.22-alpine",
		FileName: "main.go",
		Command:  []string{"sh", "-c", "go run main.go"},
	},
}

type codeHandler struct {
	base
	settings  CodeConfig
	languages map[string]languageRuntime
	sandbox   docker.Runner
	logger    zerolog.Logger
}

func newCodeHandler(cfg models.SubmissionTypeConfig, deps Deps) (Handler, error) {
	handler := &codeHandler{
		base:    base{config: cfg},
		sandbox: deps.Sandbox,
		logger:  deps.Logger.With().Str("component", "code_handler").Logger(),
	}
	if err := decodeConfig(cfg.Code, cfg.Config, &handler.settings); err != nil {
		return nil, err
	}

	handler.languages = make(map[string]languageRuntime)
	if len(handler.settings.Languages) == 0 {
		for name, runtime := range languageRuntimes {
			handler.languages[name] = runtime
		}
		return handler, nil
	}
	for _, name := range handler.settings.Languages {
		key := strings.ToLower(strings.TrimSpace(name))
		runtime, ok := languageRuntimes[key]
		if !ok {
			return nil, fmt.Errorf("%s config: unsupported language %q", cfg.Code, name)
		}
		handler.languages[key] = runtime
	}
	return handler, nil
}

func (h *codeHandler) Validate(_ context.Context, input Input) error {
	if err := h.validateInput(input, true); err != nil {
		return err
	}
	language := h.language(input.Metadata)
	if language == "" {
		return evaluation.NewValidationError("language", "language is required")
	}
	if _, ok := h.languages[language]; !ok {
		return evaluation.NewValidationError("language", fmt.Sprintf("language %q is not accepted; use one of %s", language, strings.Join(h.languageNames(), ", ")))
	}
	return nil
}

func (h *codeHandler) Preprocess(ctx context.Context, input Input) (Preprocessed, error) {
	language := h.language(input.Metadata)
	source := strings.ReplaceAll(input.Content, "\r\n", "\n")
	source = strings.TrimRight(source, "\n\t ")

	lines := strings.Split(source, "\n")
	details := map[string]string{
		"language": language,
		"lines":    strconv.Itoa(len(lines)),
	}

	if h.settings.RunInSandbox {
		h.runSandbox(ctx, language, source, metadataString(input.Metadata, "stdin"), details)
	}

	metadata := copyMetadata(input.Metadata)
	metadata["language"] = language

	return Preprocessed{
		Text:      source,
		WordCount: CountWords(source),
		Context:   details,
		Metadata:  metadata,
	}, nil
}

// runSandbox executes the program and records its output as grading context. Sandbox problems are
// noted in the context rather than failing the submission.
func (h *codeHandler) runSandbox(ctx context.Context, language, source, stdin string, details map[string]string) {
	if h.sandbox == nil {
		details["execution"] = "not run (sandbox unavailable)"
		return
	}
	runtime := h.languages[language]
	outcome, err := h.sandbox.Run(ctx, docker.Program{
		Image:   runtime.Image,
		Cmd:     runtime.Command,
		Files:   map[string]string{runtime.FileName: source},
		Stdin:   stdin,
		Timeout: h.settings.Timeout(),
	})
	switch {
	case outcome.TimedOut:
		details["execution"] = fmt.Sprintf("timed out after %s", h.settings.Timeout())
	case err != nil:
		h.logger.Warn().Err(err).Str("language", language).Msg("sandbox run failed")
		details["execution"] = "not run (sandbox error)"
		return
	default:
		details["execution"] = fmt.Sprintf("exit code %d in %dms", outcome.ExitCode, outcome.Duration.Milliseconds())
	}
	if out := clip(outcome.Stdout); out != "" {
		details["stdout"] = out
	}
	if out := clip(outcome.Stderr); out != "" {
		details["stderr"] = out
	}
}

func (h *codeHandler) BuildPrompt(rubric []models.RubricCategory, pre Preprocessed) string {
	language := pre.Context["language"]
	return buildPrompt(promptParts{
		role:         "You are a programming teacher reviewing a student's source code.",
		task:         fmt.Sprintf("Evaluate this %s program against each rubric category from 0 to 100. Consider correctness, readability and the execution result when provided. Point at specific lines in strengths and improvements.", language),
		contentLabel: "Source code",
		fence:        language,
	}, rubric, pre)
}

func (h *codeHandler) FormatFeedback(raw string, _ map[string]interface{}) Display {
	return Display{Text: strings.TrimSpace(raw), Format: FormatMarkdown}
}

func (h *codeHandler) language(metadata map[string]interface{}) string {
	return strings.ToLower(strings.TrimSpace(metadataString(metadata, "language")))
}

func (h *codeHandler) languageNames() []string {
	names := make([]string, 0, len(h.languages))
	for name := range h.languages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func clip(output string) string {
	output = strings.TrimSpace(output)
	if len(output) > maxContextOutput {
		return output[:maxContextOutput] + "..."
	}
	return output
}
