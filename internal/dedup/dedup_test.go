package dedup

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestAddReportsFirstInsert(t *testing.T) {
	s := NewSet(10, time.Hour)
	id := uuid.New()

	if !s.Add(id) {
		t.Fatal("first Add returned false")
	}
	if s.Add(id) {
		t.Fatal("second Add returned true")
	}
	if !s.Contains(id) {
		t.Fatal("Contains returned false for tracked id")
	}
}

func TestTTLExpiry(t *testing.T) {
	s := NewSet(10, time.Minute)
	now := time.Unix(1700000000, 0)
	s.clock = func() time.Time { return now }

	id := uuid.New()
	s.Add(id)

	now = now.Add(2 * time.Minute)
	if s.Contains(id) {
		t.Fatal("Contains returned true past the TTL")
	}
	// Expired entries are evicted on the next Add, so the id counts as
	// new again.
	if !s.Add(id) {
		t.Fatal("Add returned false for an expired id")
	}
}

func TestSizeEviction(t *testing.T) {
	s := NewSet(3, time.Hour)
	now := time.Unix(1700000000, 0)
	s.clock = func() time.Time { return now }

	oldest := uuid.New()
	s.Add(oldest)
	for i := 0; i < 3; i++ {
		now = now.Add(time.Second)
		s.Add(uuid.New())
	}

	if s.Len() > 3 {
		t.Fatalf("Len = %d, want <= 3", s.Len())
	}
	if s.Contains(oldest) {
		t.Fatal("oldest entry survived eviction")
	}
}

func TestDefaults(t *testing.T) {
	s := NewSet(0, 0)
	if s.maxSize != defaultMaxSize {
		t.Errorf("maxSize = %d, want %d", s.maxSize, defaultMaxSize)
	}
	if s.ttl != defaultTTL {
		t.Errorf("ttl = %s, want %s", s.ttl, defaultTTL)
	}
}
