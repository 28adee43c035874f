package mq

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// FetchLimiter bounds how many fetched messages may be in flight. Consumers
// acquire before fetching and release once the handler returns, so a busy
// judge stops pulling from the broker instead of bouncing messages.
type FetchLimiter interface {
	Acquire(ctx context.Context) error
	Release()
}

// TokenLimiter is a FetchLimiter with a fixed number of slots.
type TokenLimiter struct {
	sem  *semaphore.Weighted
	held atomic.Int64
}

// NewTokenLimiter sizes the limiter, usually to the judge worker count.
func NewTokenLimiter(size int) *TokenLimiter {
	if size <= 0 {
		size = 1
	}
	return &TokenLimiter{sem: semaphore.NewWeighted(int64(size))}
}

func (l *TokenLimiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.held.Add(1)
	return nil
}

// Release frees one slot. Extra releases are ignored.
func (l *TokenLimiter) Release() {
	for {
		n := l.held.Load()
		if n <= 0 {
			return
		}
		if l.held.CompareAndSwap(n, n-1) {
			l.sem.Release(1)
			return
		}
	}
}

// InFlight reports the slots currently held.
func (l *TokenLimiter) InFlight() int64 { return l.held.Load() }
