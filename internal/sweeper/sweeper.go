// Package sweeper periodically drops expired quotes from the proxy stores.
package sweeper

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"quoteproxy/internal/quoteproxy"
)

// Target is swept on every tick.
type Target interface {
	Sweep() int
	Stats() quoteproxy.Stats
}

// Sweeper manages the sweep cron task.
type Sweeper struct {
	Cron   *cron.Cron
	target Target
	log    zerolog.Logger
}

// New registers a sweep of target on schedule, a standard cron expression or a
// descriptor such as "@every 60s".
func New(schedule string, target Target, log zerolog.Logger) (*Sweeper, error) {
	s := &Sweeper{
		Cron:   cron.New(),
		target: target,
		log:    log.With().Str("component", "sweeper").Logger(),
	}
	if _, err := s.Cron.AddFunc(schedule, s.RunNow); err != nil {
		return nil, fmt.Errorf("register sweep %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.Cron.Start()
	s.log.Info().Msg("Sweeper started")
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info().Msg("Sweeper stopped")
}

// RunNow sweeps once.
func (s *Sweeper) RunNow() {
	removed := s.target.Sweep()
	st := s.target.Stats()
	s.log.Debug().
		Int("removed", removed).
		Int("cached", st.CachedSymbols).
		Int("stale", st.StaleSymbols).
		Int("breaker_errors", st.BreakerErrors).
		Bool("breaker_tripped", st.BreakerTripped).
		Msg("Sweep finished")
}
