package ai

import (
	"fmt"

	"github.com/rs/zerolog"
)

// anthropicCompatBaseURL is Anthropic's OpenAI SDK compatible endpoint.
const anthropicCompatBaseURL = "https://api.anthropic.com/v1/"

// AnthropicConfig holds the configuration for Claude models.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Logger    zerolog.Logger
}

// NewAnthropicClient builds a chat client that talks to Anthropic through its OpenAI compatible API.
func NewAnthropicClient(cfg AnthropicConfig) (*ChatClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicCompatBaseURL
	}

	return newChatClient("anthropic", OpenAIConfig{
		APIKey:    cfg.APIKey,
		BaseURL:   baseURL,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		Logger:    cfg.Logger,
	}), nil
}
