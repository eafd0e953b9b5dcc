// Package watcher merges the two signal paths for new records: the
// store-level change notifications (push) and the periodic pending scan
// (poll). Both paths emit onto one event bus; a single consumer dedups
// against a bounded processed-set and hands each logical event to the
// handler exactly once per process lifetime.
//
// The processed-set is an optimization, not the safety net: the handler's
// store-level idempotency markers are what make side effects at-most-once
// across restarts.
package watcher

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imutig/phmc-relay/internal/dedup"
	"github.com/imutig/phmc-relay/internal/domain"
	"github.com/imutig/phmc-relay/internal/transport/channel"
)

// Store defines the poll-path queries: records whose idempotency markers
// are unset and whose status is still initial, oldest first.
type Store interface {
	PendingApplicationIDs(ctx context.Context) ([]uuid.UUID, error)
	PendingAppointmentIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Handler processes one logical record event. Errors are logged and not
// retried within this process; the poll path plus store markers recover
// across restarts.
type Handler interface {
	HandleRecord(ctx context.Context, kind domain.RecordKind, id uuid.UUID) error
}

// MetricsSink defines the interface for recording watcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	EventObserved(kind, source string)
	EventDeduped(kind string)
	HandleError(kind string)
}

// Config holds watcher configuration.
type Config struct {
	// PollInterval is how often the pending scan runs. Default: 10s.
	PollInterval time.Duration

	// Kinds are the record types to watch.
	Kinds []domain.RecordKind
}

// DefaultConfig returns the default watcher configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval: 10 * time.Second,
		Kinds:        []domain.RecordKind{domain.RecordKindApplication, domain.RecordKindAppointment},
	}
}

type Watcher struct {
	config  Config
	store   Store
	bus     *channel.EventBus
	handler Handler
	seen    *dedup.Set
	push    <-chan domain.RecordEvent // optional, nil = poll only
	clock   func() time.Time
	metrics MetricsSink // optional, nil = disabled
}

func New(config Config, store Store, bus *channel.EventBus, handler Handler, seen *dedup.Set) *Watcher {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if len(config.Kinds) == 0 {
		config.Kinds = DefaultConfig().Kinds
	}
	return &Watcher{
		config:  config,
		store:   store,
		bus:     bus,
		handler: handler,
		seen:    seen,
		clock:   time.Now,
	}
}

// WithPush attaches the change-notification channel. Without it the
// watcher degrades to poll-only operation.
func (w *Watcher) WithPush(ch <-chan domain.RecordEvent) *Watcher {
	w.push = ch
	return w
}

// WithMetrics attaches a metrics sink to the watcher.
func (w *Watcher) WithMetrics(sink MetricsSink) *Watcher {
	w.metrics = sink
	return w
}

// Run starts the push forwarder, the poll loops, and the consumer.
// It blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	log.Printf("watcher: started (poll=%s, kinds=%d, push=%v)",
		w.config.PollInterval, len(w.config.Kinds), w.push != nil)

	var wg sync.WaitGroup

	if w.push != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.forwardPush(ctx)
		}()
	}

	for _, kind := range w.config.Kinds {
		kind := kind
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.pollLoop(ctx, kind)
		}()
	}

	w.consume(ctx)
	wg.Wait()
	log.Println("watcher: stopped")
}

// forwardPush normalizes change notifications onto the shared bus.
func (w *Watcher) forwardPush(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.push:
			if !ok {
				log.Println("watcher: push channel closed, continuing poll-only")
				return
			}
			event.Source = domain.EventSourcePush
			if event.ObservedAt.IsZero() {
				event.ObservedAt = w.clock().UTC()
			}
			if err := w.bus.Emit(ctx, event); err != nil {
				return
			}
		}
	}
}

func (w *Watcher) pollLoop(ctx context.Context, kind domain.RecordKind) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// First scan immediately so a backlog is picked up at startup.
	w.pollOnce(ctx, kind)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce(ctx, kind)
		}
	}
}

func (w *Watcher) pollOnce(ctx context.Context, kind domain.RecordKind) {
	var ids []uuid.UUID
	var err error

	switch kind {
	case domain.RecordKindApplication:
		ids, err = w.store.PendingApplicationIDs(ctx)
	case domain.RecordKindAppointment:
		ids, err = w.store.PendingAppointmentIDs(ctx)
	default:
		return
	}
	if err != nil {
		// Store error: log and skip this cycle, next tick retries.
		log.Printf("watcher: poll %s failed: %v", kind, err)
		return
	}

	for _, id := range ids {
		event := domain.RecordEvent{
			Kind:       kind,
			RecordID:   id,
			Source:     domain.EventSourcePoll,
			ObservedAt: w.clock().UTC(),
		}
		if err := w.bus.Emit(ctx, event); err != nil {
			return
		}
	}
}

func (w *Watcher) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-w.bus.Channel():
			w.handleEvent(ctx, event)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event domain.RecordEvent) {
	if w.metrics != nil {
		w.metrics.EventObserved(string(event.Kind), string(event.Source))
	}

	// Mark before handling so the other path cannot slip in between.
	if !w.seen.Add(event.RecordID) {
		if w.metrics != nil {
			w.metrics.EventDeduped(string(event.Kind))
		}
		return
	}

	if err := w.handler.HandleRecord(ctx, event.Kind, event.RecordID); err != nil {
		// The id stays in the processed-set: no in-process retry, the
		// store markers keep the record eligible across restarts.
		log.Printf("watcher: handle %s %s (source=%s) failed: %v",
			event.Kind, event.RecordID, event.Source, err)
		if w.metrics != nil {
			w.metrics.HandleError(string(event.Kind))
		}
	}
}
