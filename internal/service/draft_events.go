package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-feedback-api/internal/models"
)

// DraftEvent is published on every draft status transition for the external notification collaborator.
type DraftEvent struct {
	Source       string    `json:"source"`
	DraftID      uint      `json:"draft_id"`
	AssignmentID uint      `json:"assignment_id"`
	StudentID    uint      `json:"student_id"`
	Version      int       `json:"version"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// DraftEventPublisher fans draft events out to Redis pub/sub and NATS. Either transport may be absent.
type DraftEventPublisher struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	nodeID       string
}

// NewDraftEventPublisher derives the Redis channel and NATS subject from channelBase, e.g. "gema:evaluation"
// publishes to "gema:evaluation:drafts" and "gema.evaluation.drafts".
func NewDraftEventPublisher(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) *DraftEventPublisher {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":drafts"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".drafts"
	}

	return &DraftEventPublisher{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "draft_events").Logger(),
		nodeID:       uuid.NewString(),
	}
}

// Publish sends one transition event. Delivery failures are logged and never block the pipeline.
func (p *DraftEventPublisher) Publish(ctx context.Context, draft models.Draft, from, to string) {
	if p == nil {
		return
	}

	event := DraftEvent{
		Source:       p.nodeID,
		DraftID:      draft.ID,
		AssignmentID: draft.AssignmentID,
		StudentID:    draft.StudentID,
		Version:      draft.Version,
		From:         from,
		To:           to,
		OccurredAt:   time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn().Err(err).Uint("draft_id", draft.ID).Msg("failed to encode draft event")
		return
	}

	if p.redis != nil && p.redisChannel != "" {
		if err := p.redis.Publish(ctx, p.redisChannel, payload).Err(); err != nil {
			p.logger.Warn().Err(err).Uint("draft_id", draft.ID).Msg("failed to publish draft event to redis")
		}
	}

	if p.nats != nil && p.natsSubject != "" {
		if err := p.nats.Publish(p.natsSubject, payload); err != nil {
			p.logger.Warn().Err(err).Uint("draft_id", draft.ID).Msg("failed to publish draft event to nats")
		}
	}
}
