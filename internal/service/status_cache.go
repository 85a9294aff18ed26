package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-feedback-api/internal/dto"
)

// generationTTL outlives any cached response, so an expired counter never lets a stale write through.
const generationTTL = 24 * time.Hour

// StatusCache keeps rendered draft status responses in Redis. A nil client disables caching.
// Every invalidation bumps a per-draft generation counter; a response is stored only when the
// counter still holds the value read before the response was built.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewStatusCache builds the cache.
func NewStatusCache(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *StatusCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &StatusCache{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "draft_status_cache").Logger(),
	}
}

func statusCacheKey(draftID uint) string {
	return fmt.Sprintf("evaluation:draft:%d:status", draftID)
}

func statusGenerationKey(draftID uint) string {
	return fmt.Sprintf("evaluation:draft:%d:status:gen", draftID)
}

// Generation returns the invalidation counter of a draft, or -1 when it cannot be read.
func (c *StatusCache) Generation(ctx context.Context, draftID uint) int64 {
	if c == nil || c.client == nil {
		return -1
	}

	generation, err := c.client.Get(ctx, statusGenerationKey(draftID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0
		}
		c.logger.Warn().Err(err).Uint("draft_id", draftID).Msg("failed to read draft status generation")
		return -1
	}
	return generation
}

// Get returns a cached status response.
func (c *StatusCache) Get(ctx context.Context, draftID uint) (dto.DraftStatusResponse, bool) {
	if c == nil || c.client == nil {
		return dto.DraftStatusResponse{}, false
	}

	cached, err := c.client.Get(ctx, statusCacheKey(draftID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Msg("failed to read draft status cache")
		}
		return dto.DraftStatusResponse{}, false
	}

	var response dto.DraftStatusResponse
	if err := json.Unmarshal([]byte(cached), &response); err != nil {
		return dto.DraftStatusResponse{}, false
	}
	c.logger.Debug().Uint("draft_id", draftID).Msg("draft status cache hit")
	return response, true
}

// Set stores a status response built after reading generation. The write is skipped when the draft
// was invalidated in between.
func (c *StatusCache) Set(ctx context.Context, response dto.DraftStatusResponse, generation int64) {
	if c == nil || c.client == nil || generation < 0 {
		return
	}

	payload, err := json.Marshal(response)
	if err != nil {
		return
	}

	genKey := statusGenerationKey(response.DraftID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, statusCacheKey(response.DraftID), payload, c.ttl)
			return nil
		})
		return err
	}, genKey)
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		c.logger.Warn().Err(err).Msg("failed to store draft status cache")
	}
}

// Invalidate drops the cached status of a draft.
func (c *StatusCache) Invalidate(ctx context.Context, draftID uint) {
	if c == nil || c.client == nil {
		return
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, statusGenerationKey(draftID))
		pipe.Expire(ctx, statusGenerationKey(draftID), generationTTL)
		pipe.Del(ctx, statusCacheKey(draftID))
		return nil
	})
	if err != nil {
		c.logger.Warn().Err(err).Uint("draft_id", draftID).Msg("failed to invalidate draft status cache")
	}
}
