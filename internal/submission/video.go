package submission

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-feedback-api/internal/evaluation"
	"github.com/noah-isme/gema-feedback-api/internal/models"
	"github.com/noah-isme/gema-feedback-api/pkg/ai"
)

const transcriptKey = "transcript"

type videoHandler struct {
	base
	settings    VideoConfig
	transcriber ai.Client
	logger      zerolog.Logger
}

func newVideoHandler(cfg models.SubmissionTypeConfig, deps Deps) (Handler, error) {
	handler := &videoHandler{
		base:   base{config: cfg},
		logger: deps.Logger.With().Str("component", "video_handler").Logger(),
	}
	if err := decodeConfig(cfg.Code, cfg.Config, &handler.settings); err != nil {
		return nil, err
	}
	if name := strings.TrimSpace(handler.settings.TranscriptionProvider); name != "" {
		if client, ok := deps.Transcribers.Get(name); ok {
			handler.transcriber = client
		} else {
			handler.logger.Warn().Str("provider", name).Msg("transcription provider not registered; submissions without a transcript will be rejected")
		}
	}
	return handler, nil
}

func (h *videoHandler) Validate(ctx context.Context, input Input) error {
	if err := h.validateInput(input, false); err != nil {
		return err
	}
	if h.transcript(input) != "" {
		return nil
	}
	if strings.TrimSpace(input.FilePath) == "" {
		return evaluation.NewValidationError("file", "a local media file or a transcript is required")
	}
	return h.transcriberReady(ctx)
}

// transcriberReady reports a missing or unhealthy transcription service as a validation failure.
func (h *videoHandler) transcriberReady(ctx context.Context) error {
	if h.transcriber == nil {
		return evaluation.NewValidationError("transcription", "no transcription service is configured for this submission type")
	}
	if checker, ok := h.transcriber.(ai.HealthChecker); ok {
		if err := checker.Healthy(ctx); err != nil {
			h.logger.Warn().Err(err).Str("provider", h.transcriber.Provider()).Msg("transcription service unhealthy")
			return evaluation.NewValidationError("transcription", "transcription service is unavailable, try again later")
		}
	}
	return nil
}

func (h *videoHandler) Preprocess(ctx context.Context, input Input) (Preprocessed, error) {
	transcript := h.transcript(input)
	source := "provided"
	if transcript == "" {
		if err := h.transcriberReady(ctx); err != nil {
			return Preprocessed{}, err
		}
		response, err := h.transcriber.Invoke(ctx, ai.Request{
			Prompt:    metadataString(input.Metadata, "vocabulary"),
			MediaPath: input.FilePath,
			Timeout:   h.settings.Timeout(),
		})
		if err != nil {
			h.logger.Error().Err(err).Str("provider", h.transcriber.Provider()).Msg("transcription failed")
			if errors.Is(err, ai.ErrTimeout) {
				return Preprocessed{}, evaluation.NewValidationError("transcription", "transcription timed out")
			}
			return Preprocessed{}, evaluation.NewValidationError("transcription", "transcription failed")
		}
		transcript = strings.TrimSpace(response.Text)
		source = response.Model
		if transcript == "" {
			return Preprocessed{}, evaluation.NewValidationError("transcription", "the recording contains no recognisable speech")
		}
	}

	text := NormalizeText(transcript)
	words := CountWords(text)
	if h.config.MinWords > 0 && words < h.config.MinWords {
		return Preprocessed{}, evaluation.NewValidationError("content", fmt.Sprintf("transcript has %d words, at least %d required", words, h.config.MinWords))
	}

	metadata := copyMetadata(input.Metadata)
	delete(metadata, transcriptKey)
	details := map[string]string{
		"transcript_source": source,
		"transcript_words":  strconv.Itoa(words),
	}
	if h.settings.Language != "" {
		details["language"] = h.settings.Language
	}

	return Preprocessed{
		Text:      text,
		WordCount: words,
		Context:   details,
		Metadata:  metadata,
	}, nil
}

func (h *videoHandler) BuildPrompt(rubric []models.RubricCategory, pre Preprocessed) string {
	return buildPrompt(promptParts{
		role:         "You are a teacher assessing a student's recorded presentation from its transcript.",
		task:         "Judge the spoken content against each rubric category from 0 to 100. Delivery cues that are not visible in a transcript must not lower the score.",
		contentLabel: "Transcript",
	}, rubric, pre)
}

func (h *videoHandler) FormatFeedback(raw string, _ map[string]interface{}) Display {
	return Display{Text: strings.TrimSpace(raw), Format: FormatPlain}
}

func (h *videoHandler) transcript(input Input) string {
	if text := strings.TrimSpace(input.Content); text != "" {
		return text
	}
	return strings.TrimSpace(metadataString(input.Metadata, transcriptKey))
}
