package coalesce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quoteproxy/internal/provider"
)

func TestDo_ConcurrentCallersShareOneCall(t *testing.T) {
	var g Group[int]
	var calls atomic.Int32
	release := make(chan struct{})

	const n = 20
	results := make([]int, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = g.Do(t.Context(), "OANDA:EUR_USD", func(context.Context) (int, error) {
				calls.Add(1)
				<-release
				return 42, nil
			})
		}(i)
	}

	require.Eventually(t, func() bool { return g.Waiting("OANDA:EUR_USD") == n }, 2*time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 42, results[i])
	}
	assert.Equal(t, 0, g.Waiting("OANDA:EUR_USD"))
}

func TestDo_ErrorBroadcastThenForgotten(t *testing.T) {
	var g Group[int]
	boom := errors.New("boom")
	release := make(chan struct{})
	var calls atomic.Int32

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = g.Do(t.Context(), "K", func(context.Context) (int, error) {
				calls.Add(1)
				<-release
				return 0, boom
			})
		}(i)
	}
	require.Eventually(t, func() bool { return g.Waiting("K") == 2 }, 2*time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.ErrorIs(t, errs[0], boom)
	assert.ErrorIs(t, errs[1], boom)
	assert.Equal(t, int32(1), calls.Load())

	// Settled: a later call starts a fresh fetch.
	v, shared, err := g.Do(t.Context(), "K", func(context.Context) (int, error) {
		calls.Add(1)
		return 7, nil
	})
	require.NoError(t, err)
	assert.False(t, shared)
	assert.Equal(t, 7, v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_DistinctKeysRunIndependently(t *testing.T) {
	var g Group[string]
	var calls atomic.Int32
	var wg sync.WaitGroup
	for _, k := range []string{"A", "B", "C"} {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			v, _, err := g.Do(t.Context(), k, func(context.Context) (string, error) {
				calls.Add(1)
				return k, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, k, v)
		}(k)
	}
	wg.Wait()
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_CallerCancelDoesNotCancelFlight(t *testing.T) {
	var g Group[int]
	release := make(chan struct{})
	flightErr := make(chan error, 1)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		_, _, err := g.Do(ctx, "K", func(fctx context.Context) (int, error) {
			<-release
			flightErr <- fctx.Err()
			return 1, nil
		})
		done <- err
	}()
	require.Eventually(t, func() bool { return g.Waiting("K") == 1 }, 2*time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	assert.NoError(t, <-flightErr, "flight context must not inherit caller cancellation")
}

func TestDo_PanicBecomesUpstreamError(t *testing.T) {
	var g Group[int]

	_, _, err := g.Do(t.Context(), "K", func(context.Context) (int, error) {
		panic("decoder blew up")
	})
	require.ErrorIs(t, err, provider.ErrUpstream)
	assert.Contains(t, err.Error(), "decoder blew up")

	v, _, err := g.Do(t.Context(), "K", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}
