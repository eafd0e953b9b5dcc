package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/imutig/phmc-relay/internal/dedup"
	"github.com/imutig/phmc-relay/internal/domain"
	"github.com/imutig/phmc-relay/internal/transport/channel"
)

type fakeStore struct {
	mu           sync.Mutex
	applications []uuid.UUID
	appointments []uuid.UUID
	err          error
}

func (s *fakeStore) PendingApplicationIDs(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]uuid.UUID(nil), s.applications...), nil
}

func (s *fakeStore) PendingAppointmentIDs(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]uuid.UUID(nil), s.appointments...), nil
}

type recordingHandler struct {
	mu      sync.Mutex
	handled []domain.RecordEvent
	errFor  map[uuid.UUID]error
}

func (h *recordingHandler) HandleRecord(ctx context.Context, kind domain.RecordKind, id uuid.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, domain.RecordEvent{Kind: kind, RecordID: id})
	if h.errFor != nil {
		return h.errFor[id]
	}
	return nil
}

func (h *recordingHandler) count(id uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.handled {
		if e.RecordID == id {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func startWatcher(t *testing.T, w *Watcher) (context.CancelFunc, *sync.WaitGroup) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return cancel, &wg
}

func TestPollPicksUpPendingRecords(t *testing.T) {
	appID := uuid.New()
	apptID := uuid.New()
	store := &fakeStore{
		applications: []uuid.UUID{appID},
		appointments: []uuid.UUID{apptID},
	}
	handler := &recordingHandler{}
	bus := channel.NewEventBus(10)

	w := New(Config{PollInterval: 10 * time.Millisecond}, store, bus, handler, dedup.NewSet(0, 0))
	startWatcher(t, w)

	waitFor(t, func() bool {
		return handler.count(appID) == 1 && handler.count(apptID) == 1
	})
}

func TestRepeatedPollsHandleOnce(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{applications: []uuid.UUID{id}}
	handler := &recordingHandler{}
	bus := channel.NewEventBus(10)

	w := New(Config{PollInterval: 5 * time.Millisecond}, store, bus, handler, dedup.NewSet(0, 0))
	startWatcher(t, w)

	waitFor(t, func() bool { return handler.count(id) >= 1 })

	// Several more poll cycles; the processed-set must swallow them.
	time.Sleep(50 * time.Millisecond)
	if n := handler.count(id); n != 1 {
		t.Fatalf("handled %d times, want 1", n)
	}
}

func TestPushAndPollConverge(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{applications: []uuid.UUID{id}}
	handler := &recordingHandler{}
	bus := channel.NewEventBus(10)
	push := make(chan domain.RecordEvent, 1)

	w := New(Config{PollInterval: 5 * time.Millisecond}, store, bus, handler, dedup.NewSet(0, 0)).
		WithPush(push)
	startWatcher(t, w)

	push <- domain.RecordEvent{Kind: domain.RecordKindApplication, RecordID: id}

	waitFor(t, func() bool { return handler.count(id) >= 1 })
	time.Sleep(50 * time.Millisecond)
	if n := handler.count(id); n != 1 {
		t.Fatalf("handled %d times, want 1", n)
	}
}

func TestHandlerErrorNotRetriedInProcess(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{applications: []uuid.UUID{id}}
	handler := &recordingHandler{errFor: map[uuid.UUID]error{id: context.DeadlineExceeded}}
	bus := channel.NewEventBus(10)

	w := New(Config{PollInterval: 5 * time.Millisecond}, store, bus, handler, dedup.NewSet(0, 0))
	startWatcher(t, w)

	waitFor(t, func() bool { return handler.count(id) >= 1 })
	time.Sleep(50 * time.Millisecond)
	// The id stays in the processed-set even after a handler error.
	if n := handler.count(id); n != 1 {
		t.Fatalf("handled %d times, want 1", n)
	}
}

func TestPollErrorSkipsCycle(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{applications: []uuid.UUID{id}, err: context.DeadlineExceeded}
	handler := &recordingHandler{}
	bus := channel.NewEventBus(10)

	w := New(Config{PollInterval: 5 * time.Millisecond}, store, bus, handler, dedup.NewSet(0, 0))
	startWatcher(t, w)

	time.Sleep(30 * time.Millisecond)
	if n := handler.count(id); n != 0 {
		t.Fatalf("handled %d times during store outage, want 0", n)
	}

	// Store recovers; the next cycle picks the record up.
	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()

	waitFor(t, func() bool { return handler.count(id) == 1 })
}

func TestClosedPushChannelDegradesToPoll(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{applications: []uuid.UUID{id}}
	handler := &recordingHandler{}
	bus := channel.NewEventBus(10)
	push := make(chan domain.RecordEvent)
	close(push)

	w := New(Config{PollInterval: 5 * time.Millisecond}, store, bus, handler, dedup.NewSet(0, 0)).
		WithPush(push)
	startWatcher(t, w)

	waitFor(t, func() bool { return handler.count(id) == 1 })
}
