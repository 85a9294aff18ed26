package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "invocation_duration_seconds",
		Help:      "Duration of model invocation requests",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"provider", "model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "invocation_failures_total",
		Help:      "Number of failed model invocations",
	}, []string{"provider", "model", "reason"})
)

const defaultSystemPrompt = "You are an experienced instructor grading student work against a rubric. " +
	"Respond only with a JSON object."

// OpenAIConfig defines configuration options for chat completion clients.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// ChatClient implements Client against an OpenAI compatible chat completion API.
type ChatClient struct {
	client   *openai.Client
	cfg      OpenAIConfig
	provider string
	tracer   trace.Tracer
	logger   zerolog.Logger
}

// NewOpenAIClient builds a client for the OpenAI API.
func NewOpenAIClient(cfg OpenAIConfig) (*ChatClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return newChatClient("openai", cfg), nil
}

func newChatClient(provider string, cfg OpenAIConfig) *ChatClient {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &ChatClient{
		client:   openai.NewClientWithConfig(config),
		cfg:      cfg,
		provider: provider,
		tracer:   otel.Tracer("github.com/noah-isme/gema-feedback-api/pkg/ai/" + provider),
		logger:   logger.With().Str("component", provider+"_client").Str("model", cfg.Model).Logger(),
	}
}

// Provider returns the provider label used in metrics.
func (c *ChatClient) Provider() string {
	return c.provider
}

// Model returns the model identifier requested from the provider.
func (c *ChatClient) Model() string {
	return c.cfg.Model
}

// Invoke sends the prompt and returns the raw completion text.
func (c *ChatClient) Invoke(parent context.Context, req Request) (Response, error) {
	ctx, span := c.tracer.Start(parent, c.provider+".invoke", trace.WithAttributes(
		attribute.String("model", c.cfg.Model),
		attribute.String("run_key", req.RunKey),
	))
	defer span.End()

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	system := req.System
	if system == "" {
		system = defaultSystemPrompt
	}

	request := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		User:        req.RunKey,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	if c.provider == "openai" {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, request)
	latency := time.Since(start)
	aiDuration.WithLabelValues(c.provider, c.cfg.Model).Observe(latency.Seconds())
	if err != nil {
		return Response{}, c.fail(ctx, span, err)
	}

	if len(resp.Choices) == 0 {
		return Response{}, c.fail(ctx, span, fmt.Errorf("no choices returned from %s", c.provider))
	}

	c.logger.Debug().Str("run_key", req.RunKey).Dur("latency", latency).Msg("model invocation completed")

	return Response{
		Text:             strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:            c.cfg.Model,
		Latency:          latency,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Healthy checks that the configured model is reachable.
func (c *ChatClient) Healthy(ctx context.Context) error {
	if _, err := c.client.GetModel(ctx, c.cfg.Model); err != nil {
		return fmt.Errorf("%s model %s unavailable: %w", c.provider, c.cfg.Model, err)
	}
	return nil
}

func (c *ChatClient) fail(ctx context.Context, span trace.Span, err error) error {
	reason := "error"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = "timeout"
		err = fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	aiFailures.WithLabelValues(c.provider, c.cfg.Model, reason).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return fmt.Errorf("%s invoke: %w", c.provider, err)
}
