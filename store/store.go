// Package store keeps rendered composites in memory for a short while so
// that the preview page, the download link and the QR code can all refer
// to the same image without recomposing it.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTTL        = 15 * time.Minute
	DefaultMaxEntries = 256
)

type Entry struct {
	ID        string
	PNG       []byte
	Width     int
	Height    int
	Layers    int
	CreatedAt time.Time
}

type Store struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	order      []string
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func New(ttl time.Duration, maxEntries int) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	return &Store{
		entries:    make(map[string]*Entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Put stores e under a fresh ID, evicting the oldest entry when full.
func (s *Store) Put(e Entry) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = uuid.NewString()
	e.CreatedAt = s.now()

	for len(s.order) >= s.maxEntries {
		s.evictOldest()
	}

	s.entries[e.ID] = &e
	s.order = append(s.order, e.ID)

	return &e
}

// Get returns the entry for id unless it is unknown or expired.
func (s *Store) Get(id string) (*Entry, bool) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || s.expired(e) {
		return nil, false
	}

	return e, true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// Sweep drops expired entries and reports how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	// order is insertion order, so expired entries form a prefix
	removed := 0
	for len(s.order) > 0 {
		e, ok := s.entries[s.order[0]]
		if ok && !s.expired(e) {
			break
		}
		s.evictOldest()
		removed++
	}

	return removed
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *Store) expired(e *Entry) bool {
	return s.now().Sub(e.CreatedAt) >= s.ttl
}

func (s *Store) evictOldest() {
	id := s.order[0]
	s.order = s.order[1:]
	delete(s.entries, id)
}
