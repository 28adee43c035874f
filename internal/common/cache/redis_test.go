package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestPipelineWritesValueAndIndex(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	err := c.Pipeline(ctx, func(pipe Pipeliner) error {
		if err := pipe.Set("k", "v", time.Minute); err != nil {
			return err
		}
		return pipe.ZAdd("idx", ZMember{Score: 2, Member: "b"}, ZMember{Score: 1, Member: "a"})
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if got, _ := mr.Get("k"); got != "v" {
		t.Fatalf("expected v, got %q", got)
	}
	members, err := c.ZRevRange(ctx, "idx", 0, -1)
	if err != nil {
		t.Fatalf("zrevrange: %v", err)
	}
	if len(members) != 2 || members[0] != "b" {
		t.Fatalf("unexpected order: %v", members)
	}
}

func TestGetMissingKeyReturnsEmpty(t *testing.T) {
	c, _ := newTestCache(t)
	v, err := c.Get(context.Background(), "nope")
	if err != nil || v != "" {
		t.Fatalf("expected empty miss, got %q %v", v, err)
	}
}

func TestReadThroughCachesValuesAndMisses(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	type item struct{ Name string }
	calls := 0
	fetch := func(context.Context) (*item, error) {
		calls++
		return &item{Name: "x"}, nil
	}
	marshal := func(v *item) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	}
	unmarshal := func(s string) (*item, error) {
		var v item
		err := json.Unmarshal([]byte(s), &v)
		return &v, err
	}
	codec := Codec[*item]{Encode: marshal, Decode: unmarshal, Absent: func(v *item) bool { return v == nil }}
	rt := &ReadThrough[*item]{Cache: c, TTL: time.Minute, MissTTL: time.Minute, Codec: codec}

	for i := 0; i < 2; i++ {
		got, err := rt.Load(ctx, "item:1", fetch)
		if err != nil || got == nil || got.Name != "x" {
			t.Fatalf("unexpected result %v %v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected single fetch, got %d", calls)
	}

	missCalls := 0
	miss := func(context.Context) (*item, error) {
		missCalls++
		return nil, nil
	}
	for i := 0; i < 2; i++ {
		got, err := rt.Load(ctx, "item:2", miss)
		if err != nil || got != nil {
			t.Fatalf("expected cached miss, got %v %v", got, err)
		}
	}
	if missCalls != 1 {
		t.Fatalf("expected null value caching, got %d fetches", missCalls)
	}
}

func TestJitterStaysWithinTenPercent(t *testing.T) {
	ttl := 10 * time.Second
	for i := 0; i < 50; i++ {
		got := Jitter(ttl)
		if got > ttl || got < 9*time.Second {
			t.Fatalf("jitter out of range: %v", got)
		}
	}
}

func TestUnlockOnlyReleasesOwnLock(t *testing.T) {
	c, mr := newTestCache(t)
	other, err := NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("second cache: %v", err)
	}
	ctx := context.Background()

	ok, err := c.TryLock(ctx, "lock:pack", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock: %v %v", ok, err)
	}
	if ok, _ := other.TryLock(ctx, "lock:pack", time.Minute); ok {
		t.Fatalf("lock taken twice")
	}
	if err := other.Unlock(ctx, "lock:pack"); err != nil {
		t.Fatalf("foreign unlock: %v", err)
	}
	if !mr.Exists("lock:pack") {
		t.Fatalf("foreign unlock released the lock")
	}
	if err := c.Unlock(ctx, "lock:pack"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if mr.Exists("lock:pack") {
		t.Fatalf("owner unlock left the lock behind")
	}
}
