package submission

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-feedback-api/internal/models"
	"github.com/noah-isme/gema-feedback-api/pkg/ai"
	"github.com/noah-isme/gema-feedback-api/pkg/docker"
)

// Factory builds a handler from its stored configuration.
type Factory func(cfg models.SubmissionTypeConfig, deps Deps) (Handler, error)

// Deps are the collaborators handlers may need.
type Deps struct {
	Transcribers ai.Providers
	Sandbox      docker.Runner
	Logger       zerolog.Logger
	// Factories adds or replaces handler variants by type code.
	Factories map[string]Factory
}

// Builtin returns the handler variants shipped with the service.
func Builtin() map[string]Factory {
	return map[string]Factory{
		"essay": newEssayHandler,
		"code":  newCodeHandler,
		"math":  newMathHandler,
		"video": newVideoHandler,
	}
}

// Registry maps submission type codes to handlers. It is built once at start-up and never mutated.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds handlers for every active configuration. A configuration whose code has no
// factory, or whose JSON settings cannot be decoded, fails the whole build.
func NewRegistry(configs []models.SubmissionTypeConfig, deps Deps) (*Registry, error) {
	factories := Builtin()
	for code, factory := range deps.Factories {
		factories[normalizeCode(code)] = factory
	}

	handlers := make(map[string]Handler, len(configs))
	for _, cfg := range configs {
		if !cfg.Active {
			continue
		}
		code := normalizeCode(cfg.Code)
		factory, ok := factories[code]
		if !ok {
			return nil, fmt.Errorf("submission type %q has no handler", cfg.Code)
		}
		cfg.Code = code
		handler, err := factory(cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("build %s handler: %w", code, err)
		}
		handlers[code] = handler
	}

	deps.Logger.Info().Strs("types", sortedKeys(handlers)).Msg("submission handlers registered")
	return &Registry{handlers: handlers}, nil
}

// Handler looks up the handler for a type code.
func (r *Registry) Handler(code string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	handler, ok := r.handlers[normalizeCode(code)]
	return handler, ok
}

// Codes lists the registered type codes.
func (r *Registry) Codes() []string {
	return sortedKeys(r.handlers)
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

func sortedKeys(handlers map[string]Handler) []string {
	keys := make([]string, 0, len(handlers))
	for key := range handlers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
