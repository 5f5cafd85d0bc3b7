package ratelimit

import (
	"context"
	"sync"
	"time"

	"quoteproxy/internal/provider"
)

// TokenBucket paces calls to a steady rate while allowing bursts of up to
// burst back-to-back calls. Callers reserve their slot up front, so waiters
// are served in arrival order.
type TokenBucket struct {
	every time.Duration // time to earn one token
	burst int

	mu  sync.Mutex
	tat time.Time // when the bucket would next be full again
}

func NewTokenBucket(tokensPerSecond float64, burst int) *TokenBucket {
	if tokensPerSecond <= 0 {
		tokensPerSecond = 0.0000001
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{
		every: time.Duration(float64(time.Second) / tokensPerSecond),
		burst: burst,
	}
}

// PerMinute builds a bucket allowing rpm calls per minute with the given burst.
func PerMinute(rpm, burst int) *TokenBucket {
	return NewTokenBucket(float64(rpm)/60.0, burst)
}

// reserve books the next slot and returns when it opens.
func (tb *TokenBucket) reserve(now time.Time) time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if tb.tat.Before(now) {
		tb.tat = now
	}
	at := tb.tat.Add(-time.Duration(tb.burst-1) * tb.every)
	tb.tat = tb.tat.Add(tb.every)
	return at
}

func (tb *TokenBucket) cancel() {
	tb.mu.Lock()
	tb.tat = tb.tat.Add(-tb.every)
	tb.mu.Unlock()
}

// Wait blocks until a token is available or ctx is done. A canceled wait
// hands its slot back.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	wait := time.Until(tb.reserve(time.Now()))
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		tb.cancel()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TokenBucketProvider gates upstream calls with a token bucket.
type TokenBucketProvider struct {
	P  provider.Provider
	TB *TokenBucket
}

func (t *TokenBucketProvider) Name() string { return t.P.Name() }

func (t *TokenBucketProvider) Fetch(ctx context.Context, symbol string) (provider.RawQuote, error) {
	if t.TB != nil {
		if err := t.TB.Wait(ctx); err != nil {
			return provider.RawQuote{}, waitErr(symbol, err)
		}
	}
	return t.P.Fetch(ctx, symbol)
}
