// Package cache provides a Redis-backed implementation of the inbound
// deduplication set for deployments that run more than one funnelbot
// instance behind the webhook. Single-node deployments use the store's own
// dedup tables instead.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/glamlab/funnelbot/internal/store"
)

// DefaultDedupKey is the sorted-set key holding processed message IDs,
// scored by receipt time.
const DefaultDedupKey = "funnelbot:inbound_dedup"

// RedisDedup implements store.DedupRepo on a Redis sorted set. Members are
// message IDs, scores are receipt timestamps, so rank order doubles as
// insertion order for eviction.
type RedisDedup struct {
	rdb *redis.Client
	key string
}

// Compile-time check that RedisDedup implements store.DedupRepo.
var _ store.DedupRepo = (*RedisDedup)(nil)

// NewRedisDedup creates a dedup set on the given Redis client.
func NewRedisDedup(rdb *redis.Client) *RedisDedup {
	return &RedisDedup{rdb: rdb, key: DefaultDedupKey}
}

// IsDuplicate checks whether the message ID is in the set. Empty IDs are
// never duplicates.
func (d *RedisDedup) IsDuplicate(messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	ctx := context.Background()
	err := d.rdb.ZScore(ctx, d.key, messageID).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis dedup lookup failed: %w", err)
	}
	return true, nil
}

// RecordInbound adds the message ID, reporting false if it was already
// present. The set is trimmed to its bound after each insert.
func (d *RedisDedup) RecordInbound(messageID string) (bool, error) {
	if messageID == "" {
		return true, nil
	}
	ctx := context.Background()

	added, err := d.rdb.ZAddNX(ctx, d.key, redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: messageID,
	}).Result()
	if err != nil {
		return false, fmt.Errorf("redis dedup insert failed: %w", err)
	}
	if added == 0 {
		slog.Debug("RedisDedup.RecordInbound duplicate", "message_id", messageID)
		return false, nil
	}

	if err := d.evictOverflow(ctx); err != nil {
		// Eviction keeps the set bounded; a failure here must not block the message.
		slog.Warn("RedisDedup eviction failed", "error", err)
	}
	return true, nil
}

// evictOverflow trims the set down to the target size, dropping the lowest
// scores (oldest inserts), once it exceeds the maximum.
func (d *RedisDedup) evictOverflow(ctx context.Context) error {
	count, err := d.rdb.ZCard(ctx, d.key).Result()
	if err != nil {
		return fmt.Errorf("redis dedup card failed: %w", err)
	}
	if count <= store.DedupMaxEntries {
		return nil
	}
	evicted, err := d.rdb.ZRemRangeByRank(ctx, d.key, 0, count-int64(store.DedupTargetEntries)-1).Result()
	if err != nil {
		return fmt.Errorf("redis dedup trim failed: %w", err)
	}
	slog.Debug("RedisDedup overflow evicted", "evicted", evicted, "kept", store.DedupTargetEntries)
	return nil
}
