package provider

import (
	"context"
	"errors"
	"time"
)

// Upstream failure classes. Callers match them with errors.Is.
var (
	// ErrTimeout means the upstream call did not finish within its deadline.
	ErrTimeout = errors.New("upstream timeout")
	// ErrAuth is a 403 from the provider: rate limited or invalid token.
	ErrAuth = errors.New("upstream auth error")
	// ErrUpstream covers every other non-2xx response and transport failure.
	ErrUpstream = errors.New("upstream error")
)

// RawQuote is the provider payload for one symbol.
// Any field may be absent when the provider omits it.
type RawQuote struct {
	C  *float64 `json:"c"`
	PC *float64 `json:"pc"`
	DP *float64 `json:"dp"`
}

// Quote is the sanitized shape served to clients and kept in cache.
// Price and PrevClose are nil when the provider omitted them; ChangePct is
// nil when it could not be derived.
type Quote struct {
	Price       *float64
	PrevClose   *float64
	ChangePct   *float64
	LastUpdated time.Time
}

// Provider fetches a single symbol from an upstream quote source.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, symbol string) (RawQuote, error)
}
