package evaluation

import "github.com/noah-isme/gema-feedback-api/internal/models"

// transitions lists every allowed forward move of a draft. error -> processing is the manual retry path.
var transitions = map[string][]string{
	models.DraftStatusSubmitted:     {models.DraftStatusProcessing},
	models.DraftStatusProcessing:    {models.DraftStatusFeedbackReady, models.DraftStatusError},
	models.DraftStatusFeedbackReady: {models.DraftStatusUnderReview, models.DraftStatusReleased},
	models.DraftStatusUnderReview:   {models.DraftStatusReleased},
	models.DraftStatusError:         {models.DraftStatusProcessing},
}

// CanTransition reports whether a draft may move from one status to another.
func CanTransition(from, to string) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave the status.
func IsTerminal(status string) bool {
	return len(transitions[status]) == 0
}

// ContentRetained reports whether draft content must still be kept in the given status.
func ContentRetained(status string) bool {
	return status != models.DraftStatusReleased
}

// ReviewOutcome picks the status that follows feedback_ready.
func ReviewOutcome(requireReview bool) string {
	if requireReview {
		return models.DraftStatusUnderReview
	}
	return models.DraftStatusReleased
}

// InitialFeedbackStatus is the status aggregated rows are created with.
func InitialFeedbackStatus(requireReview bool) string {
	if requireReview {
		return models.FeedbackStatusPendingReview
	}
	return models.FeedbackStatusApproved
}
