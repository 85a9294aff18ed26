package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TranscriptionConfig configures the speech-to-text client.
type TranscriptionConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	Logger   zerolog.Logger
}

// TranscriptionClient turns audio or video media into text. The Request prompt is passed as a
// vocabulary hint and MediaPath must point at a local media file.
type TranscriptionClient struct {
	client *openai.Client
	cfg    TranscriptionConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewTranscriptionClient constructs a Whisper backed transcription client.
func NewTranscriptionClient(cfg TranscriptionConfig) (*TranscriptionClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("transcription api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &TranscriptionClient{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-feedback-api/pkg/ai/transcription"),
		logger: logger.With().Str("component", "transcription_client").Logger(),
	}, nil
}

// Provider returns the provider label used in metrics.
func (c *TranscriptionClient) Provider() string {
	return "openai-transcription"
}

// Model returns the speech model identifier.
func (c *TranscriptionClient) Model() string {
	return c.cfg.Model
}

// Invoke transcribes the referenced media file.
func (c *TranscriptionClient) Invoke(parent context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.MediaPath) == "" {
		return Response{}, ErrMediaRequired
	}

	ctx, span := c.tracer.Start(parent, "transcription.invoke", trace.WithAttributes(
		attribute.String("model", c.cfg.Model),
	))
	defer span.End()

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.cfg.Model,
		FilePath: req.MediaPath,
		Prompt:   req.Prompt,
		Language: c.cfg.Language,
		Format:   openai.AudioResponseFormatJSON,
	})
	latency := time.Since(start)
	aiDuration.WithLabelValues(c.Provider(), c.cfg.Model).Observe(latency.Seconds())
	if err != nil {
		reason := "error"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
			err = fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		aiFailures.WithLabelValues(c.Provider(), c.cfg.Model, reason).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, fmt.Errorf("transcribe media: %w", err)
	}

	return Response{
		Text:    strings.TrimSpace(resp.Text),
		Model:   c.cfg.Model,
		Latency: latency,
	}, nil
}

// Healthy checks that the speech model is reachable.
func (c *TranscriptionClient) Healthy(ctx context.Context) error {
	if _, err := c.client.GetModel(ctx, c.cfg.Model); err != nil {
		return fmt.Errorf("transcription model %s unavailable: %w", c.cfg.Model, err)
	}
	return nil
}
