// Package coalesce collapses concurrent fetches of the same key into one call.
package coalesce

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"quoteproxy/internal/provider"
)

// Group runs at most one fn per key at a time. Callers arriving while a call
// is outstanding attach to it and receive the same value or error. The key is
// forgotten as soon as the call settles.
type Group[T any] struct {
	sf singleflight.Group

	mu      sync.Mutex
	waiting map[string]int
}

// Do calls fn for key unless a call is already in flight, in which case it
// waits for that call instead. shared reports whether the result was handed
// to more than one caller.
//
// fn runs on a context that keeps ctx's values but not its cancellation, so
// one caller giving up does not fail the others. Do itself returns
// ctx.Err() when ctx ends first. A panic in fn is returned to every caller
// as a provider.ErrUpstream error.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (v T, shared bool, err error) {
	g.attach(key)
	defer g.detach(key)

	flightCtx := context.WithoutCancel(ctx)
	ch := g.sf.DoChan(key, func() (val any, err error) {
		// DoChan re-panics on its own goroutine, out of reach of any recoverer.
		defer func() {
			if r := recover(); r != nil {
				val, err = nil, fmt.Errorf("%w: panic fetching %s: %v", provider.ErrUpstream, key, r)
			}
		}()
		return fn(flightCtx)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return v, r.Shared, r.Err
		}
		v, _ = r.Val.(T)
		return v, r.Shared, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

// Waiting reports how many callers are currently inside Do for key.
func (g *Group[T]) Waiting(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiting[key]
}

func (g *Group[T]) attach(key string) {
	g.mu.Lock()
	if g.waiting == nil {
		g.waiting = make(map[string]int)
	}
	g.waiting[key]++
	g.mu.Unlock()
}

func (g *Group[T]) detach(key string) {
	g.mu.Lock()
	if g.waiting[key] <= 1 {
		delete(g.waiting, key)
	} else {
		g.waiting[key]--
	}
	g.mu.Unlock()
}
