package cache

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/singleflight"
)

// MissMarker is stored for keys the source does not have, so repeated
// lookups of an absent key stay off the source until it expires.
const MissMarker = "$NULL$"

// Codec converts values to and from their cached string form. Absent
// reports values that should be remembered as a miss.
type Codec[T any] struct {
	Encode func(T) (string, error)
	Decode func(string) (T, error)
	Absent func(T) bool
}

// ReadThrough is a cache-aside loader. Concurrent misses on one key share a
// single fetch; fetch errors are never cached.
type ReadThrough[T any] struct {
	Cache   Cache
	TTL     time.Duration
	MissTTL time.Duration
	Codec   Codec[T]

	flight singleflight.Group
}

func (rt *ReadThrough[T]) Load(ctx context.Context, key string, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	if raw, err := rt.Cache.Get(ctx, key); err == nil && raw != "" {
		if raw == MissMarker {
			return zero, nil
		}
		if v, err := rt.Codec.Decode(raw); err == nil {
			return v, nil
		}
	}

	v, err, _ := rt.flight.Do(key, func() (any, error) {
		v, err := fetch(ctx)
		if err != nil {
			return v, err
		}
		if rt.Codec.Absent(v) {
			if rt.MissTTL > 0 {
				_ = rt.Cache.Set(ctx, key, MissMarker, Jitter(rt.MissTTL))
			}
			return v, nil
		}
		if raw, err := rt.Codec.Encode(v); err == nil {
			_ = rt.Cache.Set(ctx, key, raw, Jitter(rt.TTL))
		}
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	out, _ := v.(T)
	if rt.Codec.Absent(out) {
		return zero, nil
	}
	return out, nil
}

// Jitter shortens ttl by up to a tenth so keys written together do not
// expire together.
func Jitter(ttl time.Duration) time.Duration {
	spread := int64(ttl / 10)
	if spread <= 0 {
		return ttl
	}
	return ttl - time.Duration(rand.Int64N(spread+1))
}
