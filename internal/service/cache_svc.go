package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultDedupeTTL is how long a processed event id is remembered. It only
// needs to outlive broker redelivery of the same message.
const DefaultDedupeTTL = 24 * time.Hour

// CacheService is a Redis ledger of event ids consumers have already
// processed. Consumers stay idempotent without it; the ledger only skips
// repeated downstream calls.
type CacheService struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCacheService creates a new CacheService. If redisURL is empty or connection
// fails, it returns a CacheService with a nil client (dedupe becomes a no-op).
func NewCacheService(redisURL string, ttl time.Duration) *CacheService {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	if redisURL == "" {
		log.Info().Msg("redis: no URL configured, event dedupe disabled")
		return &CacheService{ttl: ttl}
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn().Err(err).Msg("redis: invalid URL, event dedupe disabled")
		return &CacheService{ttl: ttl}
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis: connection failed, event dedupe disabled")
		_ = rdb.Close()
		return &CacheService{ttl: ttl}
	}

	log.Info().Msg("redis: connected, event dedupe enabled")
	return &CacheService{rdb: rdb, ttl: ttl}
}

// NewCacheServiceWithClient wraps an existing client. rdb may be nil.
func NewCacheServiceWithClient(rdb *redis.Client, ttl time.Duration) *CacheService {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &CacheService{rdb: rdb, ttl: ttl}
}

// Client returns the underlying Redis client (for health checks). May be nil.
func (c *CacheService) Client() *redis.Client {
	if c == nil {
		return nil
	}
	return c.rdb
}

// Processed reports whether consumer already handled eventID. With dedupe
// disabled it always returns false.
func (c *CacheService) Processed(ctx context.Context, consumer, eventID string) (bool, error) {
	if c == nil || c.rdb == nil {
		return false, nil
	}
	n, err := c.rdb.Exists(ctx, eventKey(consumer, eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkProcessed remembers that consumer handled eventID. Called only after
// processing succeeded, so a crash in between means one more redelivery.
func (c *CacheService) MarkProcessed(ctx context.Context, consumer, eventID string) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Set(ctx, eventKey(consumer, eventID), time.Now().UTC().Unix(), c.ttl).Err()
}

// Close shuts down the Redis connection.
func (c *CacheService) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func eventKey(consumer, eventID string) string {
	return fmt.Sprintf("events:%s:%s", consumer, eventID)
}
