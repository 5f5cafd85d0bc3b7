// Package quoteproxy serves batches of quotes from cache, fetching misses from
// the upstream provider with per-symbol coalescing and an auth-failure breaker.
package quoteproxy

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"quoteproxy/internal/breaker"
	"quoteproxy/internal/provider"
	"quoteproxy/internal/provider/cache"
	"quoteproxy/internal/provider/coalesce"
	"quoteproxy/internal/validate"
)

// Options tunes a Proxy. Zero values fall back to defaults.
type Options struct {
	// TTL is how long a successful quote is served without refetching.
	TTL time.Duration
	// StaleTTL keeps the last good quote this long as a fallback when the
	// upstream fails or the breaker is tripped. Zero disables the fallback.
	StaleTTL time.Duration
	// FetchTimeout bounds one coalesced fetch, including outbound pacing.
	FetchTimeout time.Duration
	// SweepProbability is the chance that a handled batch sweeps expired entries.
	SweepProbability float64
}

const (
	defaultTTL          = time.Minute
	defaultFetchTimeout = 15 * time.Second
)

// Proxy holds all process-wide state of the quote cache: the fresh and stale
// stores, the in-flight table and the breaker.
type Proxy struct {
	upstream provider.Provider
	breaker  *breaker.Governor
	fresh    *cache.Store
	stale    *cache.Store
	flights  coalesce.Group[provider.Quote]
	opts     Options
	log      zerolog.Logger

	// Now and Rand are replaceable for tests.
	Now  func() time.Time
	Rand func() float64
}

// New builds a Proxy in front of upstream. A nil upstream yields a disabled
// proxy that answers every batch with no quotes. A nil gov uses the default threshold.
func New(upstream provider.Provider, gov *breaker.Governor, opts Options, log zerolog.Logger) *Proxy {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.StaleTTL < 0 {
		opts.StaleTTL = 0
	}
	if gov == nil {
		gov = breaker.New(0)
	}
	p := &Proxy{
		upstream: upstream,
		breaker:  gov,
		fresh:    cache.New(),
		opts:     opts,
		log:      log.With().Str("component", "quoteproxy").Logger(),
		Now:      time.Now,
		Rand:     rand.Float64,
	}
	p.fresh.Now = p.now
	if opts.StaleTTL > 0 {
		p.stale = cache.New()
		p.stale.Now = p.now
	}
	return p
}

func (p *Proxy) now() time.Time { return p.Now() }

// Enabled reports whether an upstream is configured.
func (p *Proxy) Enabled() bool { return p.upstream != nil }

// Quotes returns the best available quote for each symbol. It never fails as
// a whole: symbols with no fresh, fetched or fallback data are left out.
func (p *Proxy) Quotes(ctx context.Context, symbols []string) map[string]provider.Quote {
	out := make(map[string]provider.Quote, len(symbols))
	if !p.Enabled() || len(symbols) == 0 {
		return out
	}
	defer p.maybeSweep()

	misses := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, done := out[s]; done {
			continue
		}
		if e, ok := p.fresh.Get(s); ok {
			out[s] = e.Quote
			continue
		}
		misses = append(misses, s)
	}
	if len(misses) == 0 {
		return out
	}

	if p.breaker.Tripped() {
		p.log.Warn().
			Int("errors", p.breaker.Count()).
			Int("threshold", p.breaker.Threshold()).
			Int("skipped", len(misses)).
			Msg("Upstream breaker tripped, serving cache only")
		for _, s := range misses {
			if q, ok := p.fallback(s); ok {
				out[s] = q
			}
		}
		return out
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, s := range misses {
		g.Go(func() error {
			q, err := p.fetch(ctx, s)
			if err != nil {
				var ok bool
				if q, ok = p.fallback(s); !ok {
					return nil
				}
			}
			mu.Lock()
			out[s] = q
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// fetch gets symbol through the in-flight table. Breaker accounting,
// validation and cache writes happen once per upstream call, not per caller.
func (p *Proxy) fetch(ctx context.Context, symbol string) (provider.Quote, error) {
	q, shared, err := p.flights.Do(ctx, symbol, func(fctx context.Context) (provider.Quote, error) {
		fctx, cancel := context.WithTimeout(fctx, p.opts.FetchTimeout)
		defer cancel()

		raw, err := p.upstream.Fetch(fctx, symbol)
		if err != nil {
			if errors.Is(err, provider.ErrAuth) {
				p.breaker.RecordAuthFailure()
			}
			p.log.Warn().
				Err(err).
				Str("symbol", symbol).
				Int("breaker_errors", p.breaker.Count()).
				Msg("Upstream quote failed")
			return provider.Quote{}, err
		}
		p.breaker.RecordSuccess()

		q := p.sanitize(symbol, raw)
		p.fresh.Put(symbol, q, p.opts.TTL)
		if p.stale != nil {
			p.stale.Put(symbol, q, p.opts.StaleTTL)
		}
		return q, nil
	})
	if err != nil && ctx.Err() != nil {
		p.log.Debug().Err(err).Str("symbol", symbol).Msg("Caller left before quote settled")
	}
	if shared {
		p.log.Debug().Str("symbol", symbol).Msg("Joined in-flight quote")
	}
	return q, err
}

func (p *Proxy) sanitize(symbol string, raw provider.RawQuote) provider.Quote {
	computed := validate.Computed(raw.C, raw.PC)
	res := validate.ChangePct(symbol, computed, raw.DP)
	if res.Corrected {
		ev := p.log.Debug().Str("symbol", symbol)
		if computed != nil {
			ev = ev.Float64("computed", *computed)
		}
		if raw.DP != nil {
			ev = ev.Float64("dp", *raw.DP)
		}
		ev.Float64("published", *res.Value).Msg("Change percent out of range, corrected")
	}
	return provider.Quote{
		Price:       raw.C,
		PrevClose:   raw.PC,
		ChangePct:   res.Value,
		LastUpdated: p.now(),
	}
}

func (p *Proxy) fallback(symbol string) (provider.Quote, bool) {
	if p.stale == nil {
		return provider.Quote{}, false
	}
	e, ok := p.stale.Get(symbol)
	return e.Quote, ok
}

// Sweep drops expired entries from both stores and returns how many went.
func (p *Proxy) Sweep() int {
	n := p.fresh.Sweep()
	if p.stale != nil {
		n += p.stale.Sweep()
	}
	if n > 0 {
		p.log.Debug().Int("removed", n).Msg("Swept expired quotes")
	}
	return n
}

func (p *Proxy) maybeSweep() {
	if prob := p.opts.SweepProbability; prob > 0 && p.Rand() < prob {
		p.Sweep()
	}
}

// ResetBreaker clears the auth-failure count, e.g. after the token was rotated.
func (p *Proxy) ResetBreaker() {
	before := p.breaker.Count()
	p.breaker.Reset()
	p.log.Info().Int("previous_errors", before).Msg("Upstream breaker reset")
}

// Stats is a point-in-time view of the proxy state.
type Stats struct {
	Enabled        bool
	CachedSymbols  int
	StaleSymbols   int
	BreakerErrors  int
	BreakerTripped bool
}

func (p *Proxy) Stats() Stats {
	st := Stats{
		Enabled:        p.Enabled(),
		CachedSymbols:  p.fresh.Len(),
		BreakerErrors:  p.breaker.Count(),
		BreakerTripped: p.breaker.Tripped(),
	}
	if p.stale != nil {
		st.StaleSymbols = p.stale.Len()
	}
	return st
}
