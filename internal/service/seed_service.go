package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-feedback-api/internal/models"
	"github.com/noah-isme/gema-feedback-api/internal/repository"
	"github.com/noah-isme/gema-feedback-api/internal/submission"
)

var (
	// ErrSeedDisabled indicates the seeding tools are disabled by configuration.
	ErrSeedDisabled = errors.New("seeding is disabled")
	// ErrSeedUnauthorized indicates the provided token is invalid.
	ErrSeedUnauthorized = errors.New("invalid seed token")
	// ErrSeedInvalid marks a seed payload the registry could not build.
	ErrSeedInvalid = errors.New("invalid seed payload")
)

// SeedService maintains the submission type catalogue the registry is built from.
type SeedService interface {
	SeedSubmissionTypes(ctx context.Context, token string, items []models.SubmissionTypeConfig) (int64, error)
	SeedDefaults(ctx context.Context) (int64, error)
}

type seedService struct {
	types   repository.SubmissionTypeRepository
	enabled bool
	token   string
	logger  zerolog.Logger
}

// NewSeedService constructs a seeding service.
func NewSeedService(types repository.SubmissionTypeRepository, enabled bool, token string, logger zerolog.Logger) SeedService {
	return &seedService{
		types:   types,
		enabled: enabled,
		token:   token,
		logger:  logger.With().Str("component", "seed_service").Logger(),
	}
}

// DefaultSubmissionTypes is the catalogue installed on an empty database.
func DefaultSubmissionTypes() []models.SubmissionTypeConfig {
	return []models.SubmissionTypeConfig{
		{
			Code: "essay", Name: "Essay", InputKind: models.InputKindText,
			MinWords: 50, MaxWords: 5000, Active: true,
			Config: datatypes.JSON(`{"min_paragraphs": 1}`),
		},
		{
			Code: "code", Name: "Code", InputKind: models.InputKindText,
			Active: true,
			Config: datatypes.JSON(`{"run_in_sandbox": true, "timeout_seconds": 5}`),
		},
		{
			Code: "math", Name: "Math solution", InputKind: models.InputKindText,
			MinWords: 3, Active: true,
			Config: datatypes.JSON(`{"require_steps": true, "min_steps": 2}`),
		},
		{
			Code: "video", Name: "Video presentation", InputKind: models.InputKindFile,
			AllowedExtensions: ".mp4,.mov,.webm,.mp3,.m4a,.wav", MaxSizeBytes: 200 << 20, Active: true,
			Config: datatypes.JSON(`{"transcription_provider": "whisper-1", "timeout_seconds": 120}`),
		},
	}
}

func (s *seedService) SeedSubmissionTypes(ctx context.Context, token string, items []models.SubmissionTypeConfig) (int64, error) {
	if !s.enabled {
		return 0, ErrSeedDisabled
	}
	if !s.validateToken(token) {
		return 0, ErrSeedUnauthorized
	}
	normalized, err := normalizeSubmissionTypes(items)
	if err != nil {
		return 0, err
	}
	affected, err := s.upsert(ctx, normalized)
	if err != nil {
		return affected, err
	}
	s.logger.Info().Int64("affected", affected).Msg("submission types seeded")
	return affected, nil
}

// SeedDefaults installs the default catalogue when no active type exists yet.
func (s *seedService) SeedDefaults(ctx context.Context) (int64, error) {
	active, err := s.types.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	if len(active) > 0 {
		return 0, nil
	}
	affected, err := s.upsert(ctx, DefaultSubmissionTypes())
	if err != nil {
		return affected, err
	}
	s.logger.Info().Int64("affected", affected).Msg("default submission types installed")
	return affected, nil
}

func (s *seedService) upsert(ctx context.Context, items []models.SubmissionTypeConfig) (int64, error) {
	var affected int64
	for i := range items {
		if err := s.types.Upsert(ctx, &items[i]); err != nil {
			return affected, fmt.Errorf("upsert submission type %s: %w", items[i].Code, err)
		}
		affected++
	}
	return affected, nil
}

func (s *seedService) validateToken(token string) bool {
	expected := strings.TrimSpace(s.token)
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.TrimSpace(token))) == 1
}

// normalizeSubmissionTypes rejects codes without a built-in handler so a seeded catalogue can never
// break the registry build on the next start.
func normalizeSubmissionTypes(items []models.SubmissionTypeConfig) ([]models.SubmissionTypeConfig, error) {
	factories := submission.Builtin()
	for i := range items {
		items[i].Code = strings.ToLower(strings.TrimSpace(items[i].Code))
		if _, ok := factories[items[i].Code]; !ok {
			return nil, fmt.Errorf("%w: submission type %q has no handler", ErrSeedInvalid, items[i].Code)
		}
		if items[i].Name == "" {
			items[i].Name = items[i].Code
		}
		if items[i].InputKind == "" {
			items[i].InputKind = models.InputKindText
		}
	}
	return items, nil
}
