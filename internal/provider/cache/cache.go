package cache

import (
	"sync"
	"time"

	"quoteproxy/internal/provider"
)

// Entry is a cached quote with its expiry.
type Entry struct {
	Quote     provider.Quote
	ExpiresAt time.Time
}

// Store holds the last successful quote per symbol until its TTL runs out.
// Entries are only replaced by a newer Put or removed by Sweep; reads never
// mutate. The zero value is ready to use.
type Store struct {
	// Now is the clock used for expiry; defaults to time.Now.
	Now func() time.Time

	mu    sync.RWMutex
	items map[string]Entry // key: symbol
}

func New() *Store { return &Store{} }

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Get returns the live entry for symbol. Expired entries are reported as
// absent but left in place for Sweep.
func (s *Store) Get(symbol string) (Entry, bool) {
	now := s.now()
	s.mu.RLock()
	e, ok := s.items[symbol]
	s.mu.RUnlock()
	if !ok || !now.Before(e.ExpiresAt) {
		return Entry{}, false
	}
	return e, true
}

// Put stores q for symbol until now+ttl, overwriting any previous entry.
func (s *Store) Put(symbol string, q provider.Quote, ttl time.Duration) {
	expiry := s.now().Add(ttl)
	s.mu.Lock()
	if s.items == nil {
		s.items = make(map[string]Entry)
	}
	s.items[symbol] = Entry{Quote: q, ExpiresAt: expiry}
	s.mu.Unlock()
}

// Sweep removes expired entries and returns how many were dropped.
func (s *Store) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.items {
		if !now.Before(e.ExpiresAt) {
			delete(s.items, k)
			n++
		}
	}
	return n
}

// Len counts stored entries, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
