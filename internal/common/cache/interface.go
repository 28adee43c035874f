package cache

import (
	"context"
	"time"
)

// Cache is what the judge needs from Redis: status snapshots, per-user
// submission indexes, rate-limit counters and data pack locks.
type Cache interface {
	BasicOps
	ZSetOps
	LockOps
	PipelineOps
	Ping(ctx context.Context) error
	Close() error
}

// BasicOps covers string keys and counters.
type BasicOps interface {
	// Get returns "" with a nil error when the key is absent.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns -1 for keys without expiry and -2 for missing keys.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Incr(ctx context.Context, key string) (int64, error)
}

// ZSetOps backs the newest-first submission index.
type ZSetOps interface {
	// ZRevRange returns members by descending score; start and stop are zero-based.
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZCard(ctx context.Context, key string) (int64, error)
	// ZRemRangeByRank removes members by ascending rank.
	ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error
}

// LockOps is a lease lock. Only the holder that took a lock can release it.
type LockOps interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// PipelineOps runs several writes in one MULTI/EXEC.
type PipelineOps interface {
	Pipeline(ctx context.Context, fn func(pipe Pipeliner) error) error
}

// Pipeliner queues commands executed together by Pipeline.
type Pipeliner interface {
	Set(key string, value interface{}, ttl time.Duration) error
	Del(keys ...string) error
	Expire(key string, ttl time.Duration) error
	ZAdd(key string, members ...ZMember) error
}

// ZMember is a scored sorted set entry.
type ZMember struct {
	Score  float64
	Member string
}
