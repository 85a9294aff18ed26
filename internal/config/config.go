package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName             string
	AppEnv              string
	AppPort             string
	AppRelease          string
	DatabaseURL         string
	DatabaseMaxConns    int
	RedisURL            string
	NatsURL             string
	JWTSecret           string
	SentryDSN           string
	MetricsEnabled      bool
	CORSAllowedOrigins  string
	SubmitRateLimit     int
	SeedEnabled         bool
	SeedToken           string
	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	DockerHost          string
	ExecutionTimeout    time.Duration
	CodeRunMemoryMB     int
	CodeRunCPUShares    int
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	OpenAIModels        []string
	AnthropicAPIKey     string
	AnthropicModels     []string
	TranscriptionModel  string
	ModelMaxTokens      int
	Evaluation          EvaluationConfig
}

// EvaluationConfig tunes the evaluation pipeline.
type EvaluationConfig struct {
	Workers        int
	RunTimeout     time.Duration
	DraftCeiling   time.Duration
	SweepInterval  time.Duration
	SweepGrace     time.Duration
	StatusCacheTTL time.Duration
	EventChannel   string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Feedback API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("submit.rate_limit", 10)
	v.SetDefault("seed.enabled", false)
	v.SetDefault("execution_timeout_ms", 5000)
	v.SetDefault("code_run_memory_mb", 256)
	v.SetDefault("code_run_cpu_shares", 512)
	v.SetDefault("openai.models", "gpt-4o-mini")
	v.SetDefault("anthropic.models", "claude-3-5-haiku-latest")
	v.SetDefault("transcription.model", "whisper-1")
	v.SetDefault("model.max_tokens", 1200)
	v.SetDefault("evaluation.workers", 8)
	v.SetDefault("evaluation.run_timeout", "60s")
	v.SetDefault("evaluation.draft_ceiling", "5m")
	v.SetDefault("evaluation.sweep_interval", "1m")
	v.SetDefault("evaluation.sweep_grace", "1m")
	v.SetDefault("evaluation.status_cache_ttl", "30s")
	v.SetDefault("evaluation.event_channel", "gema:evaluation")

	evaluation, err := loadEvaluation(v)
	if err != nil {
		return Config{}, err
	}

	timeoutMs := v.GetInt("execution_timeout_ms")
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}

	cfg := Config{
		AppName:             v.GetString("app.name"),
		AppEnv:              v.GetString("app.env"),
		AppPort:             v.GetString("app.port"),
		AppRelease:          v.GetString("app.release"),
		DatabaseURL:         v.GetString("database.url"),
		DatabaseMaxConns:    v.GetInt("database.max_conns"),
		RedisURL:            v.GetString("redis.url"),
		NatsURL:             v.GetString("nats.url"),
		JWTSecret:           v.GetString("jwt.secret"),
		SentryDSN:           v.GetString("sentry.dsn"),
		MetricsEnabled:      v.GetBool("metrics.enabled"),
		CORSAllowedOrigins:  v.GetString("cors.allowed_origins"),
		SubmitRateLimit:     v.GetInt("submit.rate_limit"),
		SeedEnabled:         v.GetBool("seed.enabled"),
		SeedToken:           v.GetString("seed.token"),
		CloudinaryCloudName: v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:    v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret: v.GetString("cloudinary.api_secret"),
		DockerHost:          v.GetString("docker_host"),
		ExecutionTimeout:    time.Duration(timeoutMs) * time.Millisecond,
		CodeRunMemoryMB:     v.GetInt("code_run_memory_mb"),
		CodeRunCPUShares:    v.GetInt("code_run_cpu_shares"),
		OpenAIAPIKey:        v.GetString("openai_api_key"),
		OpenAIBaseURL:       v.GetString("openai.base_url"),
		OpenAIModels:        splitList(v.GetString("openai.models")),
		AnthropicAPIKey:     v.GetString("anthropic_api_key"),
		AnthropicModels:     splitList(v.GetString("anthropic.models")),
		TranscriptionModel:  v.GetString("transcription.model"),
		ModelMaxTokens:      v.GetInt("model.max_tokens"),
		Evaluation:          evaluation,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.SeedEnabled && cfg.SeedToken == "" {
		return Config{}, fmt.Errorf("seed token must be provided when seeding is enabled")
	}

	if cfg.CodeRunMemoryMB <= 0 {
		cfg.CodeRunMemoryMB = 256
	}

	if cfg.CodeRunCPUShares <= 0 {
		cfg.CodeRunCPUShares = 512
	}

	return cfg, nil
}

func loadEvaluation(v *viper.Viper) (EvaluationConfig, error) {
	durations := map[string]*time.Duration{}
	cfg := EvaluationConfig{
		Workers:      v.GetInt("evaluation.workers"),
		EventChannel: v.GetString("evaluation.event_channel"),
	}
	durations["evaluation.run_timeout"] = &cfg.RunTimeout
	durations["evaluation.draft_ceiling"] = &cfg.DraftCeiling
	durations["evaluation.sweep_interval"] = &cfg.SweepInterval
	durations["evaluation.sweep_grace"] = &cfg.SweepGrace
	durations["evaluation.status_cache_ttl"] = &cfg.StatusCacheTTL

	for key, target := range durations {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return EvaluationConfig{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed <= 0 {
			return EvaluationConfig{}, fmt.Errorf("invalid %s: must be positive", key)
		}
		*target = parsed
	}

	if cfg.Workers <= 0 {
		return EvaluationConfig{}, fmt.Errorf("invalid evaluation.workers: must be positive")
	}
	if cfg.RunTimeout > cfg.DraftCeiling {
		return EvaluationConfig{}, fmt.Errorf("evaluation.run_timeout must not exceed evaluation.draft_ceiling")
	}

	return cfg, nil
}

func splitList(input string) []string {
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
