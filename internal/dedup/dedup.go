// Package dedup provides a bounded set of recently seen record ids.
//
// The set is a process-lifetime optimization only: restart safety comes
// from the persisted idempotency markers, so entries may be evicted by
// size or age without correctness impact.
package dedup

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultMaxSize = 10000
	defaultTTL     = 24 * time.Hour
)

type Set struct {
	mu      sync.Mutex
	entries map[uuid.UUID]time.Time
	maxSize int
	ttl     time.Duration
	clock   func() time.Time
}

func NewSet(maxSize int, ttl time.Duration) *Set {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Set{
		entries: make(map[uuid.UUID]time.Time),
		maxSize: maxSize,
		ttl:     ttl,
		clock:   time.Now,
	}
}

// Add records id and reports whether it was absent. The check and the
// insert happen under one lock so two concurrent callers cannot both
// observe the id as new.
func (s *Set) Add(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	s.evictLocked(now)

	if _, ok := s.entries[id]; ok {
		return false
	}
	s.entries[id] = now
	return true
}

// Contains reports whether id is present and not expired.
func (s *Set) Contains(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.entries[id]
	if !ok {
		return false
	}
	return s.clock().Sub(at) < s.ttl
}

// Len returns the number of tracked ids, including expired ones not yet
// evicted.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Set) evictLocked(now time.Time) {
	for id, at := range s.entries {
		if now.Sub(at) >= s.ttl {
			delete(s.entries, id)
		}
	}

	// Still over capacity: drop oldest entries.
	for len(s.entries) >= s.maxSize {
		var oldestID uuid.UUID
		var oldestAt time.Time
		first := true
		for id, at := range s.entries {
			if first || at.Before(oldestAt) {
				oldestID, oldestAt = id, at
				first = false
			}
		}
		delete(s.entries, oldestID)
	}
}
