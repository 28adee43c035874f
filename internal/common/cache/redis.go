package cache

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection and pool settings. Zero fields fall back to
// pool sizes suited to a single judge node.
type RedisConfig struct {
	Addr            string        `yaml:"addr"`
	Password        string        `yaml:"password"`
	DB              int           `yaml:"db"`
	MaxRetries      int           `yaml:"maxRetries"`
	MinRetryBackoff time.Duration `yaml:"minRetryBackoff"`
	MaxRetryBackoff time.Duration `yaml:"maxRetryBackoff"`
	DialTimeout     time.Duration `yaml:"dialTimeout"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	PoolSize        int           `yaml:"poolSize"`
	MinIdleConns    int           `yaml:"minIdleConns"`
	PoolTimeout     time.Duration `yaml:"poolTimeout"`
	ConnMaxIdleTime time.Duration `yaml:"connMaxIdleTime"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

func (c RedisConfig) options() *redis.Options {
	return &redis.Options{
		Addr:            c.Addr,
		Password:        c.Password,
		DB:              c.DB,
		MaxRetries:      cmp.Or(c.MaxRetries, 3),
		MinRetryBackoff: cmp.Or(c.MinRetryBackoff, 8*time.Millisecond),
		MaxRetryBackoff: cmp.Or(c.MaxRetryBackoff, 512*time.Millisecond),
		DialTimeout:     cmp.Or(c.DialTimeout, 5*time.Second),
		ReadTimeout:     cmp.Or(c.ReadTimeout, 3*time.Second),
		WriteTimeout:    cmp.Or(c.WriteTimeout, 3*time.Second),
		PoolSize:        cmp.Or(c.PoolSize, 20),
		MinIdleConns:    cmp.Or(c.MinIdleConns, 2),
		PoolTimeout:     cmp.Or(c.PoolTimeout, 4*time.Second),
		ConnMaxIdleTime: cmp.Or(c.ConnMaxIdleTime, 10*time.Minute),
		ConnMaxLifetime: cmp.Or(c.ConnMaxLifetime, 30*time.Minute),
	}
}

// RedisCache implements Cache on go-redis. Every lock it takes is tagged
// with a per-instance owner token.
type RedisCache struct {
	client *redis.Client
	owner  string
}

// DialRedis connects and pings once within the dial timeout.
func DialRedis(cfg RedisConfig) (*RedisCache, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	opts := cfg.options()
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return NewRedisCache(client)
}

func NewRedisCache(client *redis.Client) (*RedisCache, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &RedisCache{client: client, owner: uuid.NewString()}, nil
}

func (r *RedisCache) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }
func (r *RedisCache) Close() error                   { return r.client.Close() }

func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisCache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

func (r *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, key, ttl).Err()
}

func (r *RedisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	return r.client.TTL(ctx, key).Result()
}

func (r *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

func (r *RedisCache) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.ZRevRange(ctx, key, start, stop).Result()
}

func (r *RedisCache) ZCard(ctx context.Context, key string) (int64, error) {
	return r.client.ZCard(ctx, key).Result()
}

func (r *RedisCache) ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error {
	return r.client.ZRemRangeByRank(ctx, key, start, stop).Err()
}

// compareAndDelete releases a lock only while it still carries ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (r *RedisCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, r.owner, ttl).Result()
}

func (r *RedisCache) Unlock(ctx context.Context, key string) error {
	return compareAndDelete.Run(ctx, r.client, []string{key}, r.owner).Err()
}

// Pipeline queues fn's writes in a MULTI/EXEC. Nothing is sent when fn fails.
func (r *RedisCache) Pipeline(ctx context.Context, fn func(pipe Pipeliner) error) error {
	if fn == nil {
		return nil
	}
	tx := r.client.TxPipeline()
	if err := fn(txWriter{ctx, tx}); err != nil {
		tx.Discard()
		return err
	}
	_, err := tx.Exec(ctx)
	return err
}

type txWriter struct {
	ctx context.Context
	tx  redis.Pipeliner
}

func (w txWriter) Set(key string, value interface{}, ttl time.Duration) error {
	return w.tx.Set(w.ctx, key, value, ttl).Err()
}

func (w txWriter) Del(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return w.tx.Del(w.ctx, keys...).Err()
}

func (w txWriter) Expire(key string, ttl time.Duration) error {
	return w.tx.Expire(w.ctx, key, ttl).Err()
}

func (w txWriter) ZAdd(key string, members ...ZMember) error {
	if len(members) == 0 {
		return nil
	}
	zs := make([]redis.Z, len(members))
	for i, m := range members {
		zs[i] = redis.Z{Score: m.Score, Member: m.Member}
	}
	return w.tx.ZAdd(w.ctx, key, zs...).Err()
}

var _ Cache = (*RedisCache)(nil)
