package evaluation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-feedback-api/internal/models"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]string{
		{models.DraftStatusSubmitted, models.DraftStatusProcessing},
		{models.DraftStatusProcessing, models.DraftStatusFeedbackReady},
		{models.DraftStatusProcessing, models.DraftStatusError},
		{models.DraftStatusFeedbackReady, models.DraftStatusUnderReview},
		{models.DraftStatusFeedbackReady, models.DraftStatusReleased},
		{models.DraftStatusUnderReview, models.DraftStatusReleased},
		{models.DraftStatusError, models.DraftStatusProcessing},
	}
	for _, pair := range allowed {
		require.Truef(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	rejected := [][2]string{
		{models.DraftStatusSubmitted, models.DraftStatusReleased},
		{models.DraftStatusReleased, models.DraftStatusProcessing},
		{models.DraftStatusUnderReview, models.DraftStatusFeedbackReady},
		{models.DraftStatusError, models.DraftStatusReleased},
		{models.DraftStatusFeedbackReady, models.DraftStatusProcessing},
	}
	for _, pair := range rejected {
		require.Falsef(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}

func TestTerminalAndRetention(t *testing.T) {
	require.True(t, IsTerminal(models.DraftStatusReleased))
	require.False(t, IsTerminal(models.DraftStatusError))
	require.False(t, ContentRetained(models.DraftStatusReleased))
	require.True(t, ContentRetained(models.DraftStatusUnderReview))
}

func TestReviewOutcome(t *testing.T) {
	require.Equal(t, models.DraftStatusUnderReview, ReviewOutcome(true))
	require.Equal(t, models.DraftStatusReleased, ReviewOutcome(false))
	require.Equal(t, models.FeedbackStatusPendingReview, InitialFeedbackStatus(true))
	require.Equal(t, models.FeedbackStatusApproved, InitialFeedbackStatus(false))
}
