package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-feedback-api/internal/models"
	"github.com/noah-isme/gema-feedback-api/internal/repository"
	"github.com/noah-isme/gema-feedback-api/internal/submission"
)

func TestSeedServiceTokenGuard(t *testing.T) {
	types := repository.NewSubmissionTypeRepository(openEvaluationDB(t))
	svc := NewSeedService(types, true, "secret", zerolog.Nop())

	_, err := svc.SeedSubmissionTypes(context.Background(), "wrong", []models.SubmissionTypeConfig{{Code: "essay", Active: true}})
	require.ErrorIs(t, err, ErrSeedUnauthorized)

	disabled := NewSeedService(types, false, "secret", zerolog.Nop())
	_, err = disabled.SeedSubmissionTypes(context.Background(), "secret", []models.SubmissionTypeConfig{{Code: "essay", Active: true}})
	require.ErrorIs(t, err, ErrSeedDisabled)

	_, err = svc.SeedSubmissionTypes(context.Background(), "secret", []models.SubmissionTypeConfig{{Code: "quiz", Active: true}})
	require.ErrorIs(t, err, ErrSeedInvalid)

	affected, err := svc.SeedSubmissionTypes(context.Background(), "secret", []models.SubmissionTypeConfig{{Code: " Essay ", Active: true, MinWords: 20}})
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)

	active, err := types.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "essay", active[0].Code)
	require.Equal(t, models.InputKindText, active[0].InputKind)
	require.Equal(t, 20, active[0].MinWords)
}

func TestSeedDefaultsBuildsRegistryOnce(t *testing.T) {
	types := repository.NewSubmissionTypeRepository(openEvaluationDB(t))
	svc := NewSeedService(types, false, "", zerolog.Nop())

	affected, err := svc.SeedDefaults(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(len(DefaultSubmissionTypes())), affected)

	affected, err = svc.SeedDefaults(context.Background())
	require.NoError(t, err)
	require.Zero(t, affected)

	active, err := types.ListActive(context.Background())
	require.NoError(t, err)
	registry, err := submission.NewRegistry(active, submission.Deps{Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.Equal(t, []string{"code", "essay", "math", "video"}, registry.Codes())
}
