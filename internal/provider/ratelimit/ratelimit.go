package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"quoteproxy/internal/provider"
)

// MinInterval wraps a provider and enforces a minimum time between call starts.
// Concurrent calls reserve consecutive slots, or return early if the context
// is canceled.
type MinInterval struct {
	P        provider.Provider
	Interval time.Duration

	mu   sync.Mutex
	next time.Time
}

func (m *MinInterval) Name() string { return m.P.Name() }

func (m *MinInterval) Fetch(ctx context.Context, symbol string) (provider.RawQuote, error) {
	if m.Interval > 0 {
		m.mu.Lock()
		now := time.Now()
		slot := m.next
		if slot.Before(now) {
			slot = now
		}
		m.next = slot.Add(m.Interval)
		m.mu.Unlock()

		if wait := time.Until(slot); wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return provider.RawQuote{}, waitErr(symbol, ctx.Err())
			case <-t.C:
			}
		}
	}
	return m.P.Fetch(ctx, symbol)
}

// waitErr classifies a pacing wait cut short by the caller's deadline as a
// timeout, like a slow upstream call.
func waitErr(symbol string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s waiting for upstream slot: %v", provider.ErrTimeout, symbol, err)
	}
	return err
}

// Wrap applies the configured pacing to p: a token bucket when rpm > 0,
// otherwise a minimum interval when interval > 0, otherwise p unchanged.
func Wrap(p provider.Provider, rpm, burst int, interval time.Duration) provider.Provider {
	switch {
	case rpm > 0:
		return &TokenBucketProvider{P: p, TB: PerMinute(rpm, burst)}
	case interval > 0:
		return &MinInterval{P: p, Interval: interval}
	default:
		return p
	}
}
