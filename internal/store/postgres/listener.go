package postgres

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/imutig/phmc-relay/internal/domain"
)

// Notification channels fired by the insert triggers; the payload is the
// record id.
const (
	channelApplicationInsert = "application_insert"
	channelAppointmentInsert = "appointment_insert"
)

const (
	listenMinReconnect = time.Second
	listenMaxReconnect = 30 * time.Second
	listenPingInterval = 90 * time.Second
)

// Listener turns Postgres NOTIFY events into record events. It is the
// push path only: dropped or lost notifications are always recovered by
// the poll path, so forwarding never blocks.
type Listener struct {
	connStr string
	out     chan domain.RecordEvent
	clock   func() time.Time
}

// NewListener creates a listener; Run must be called to start it.
// buffer sizes the outbound channel, beyond which events are dropped.
func NewListener(connStr string, buffer int) *Listener {
	return &Listener{
		connStr: connStr,
		out:     make(chan domain.RecordEvent, buffer),
		clock:   time.Now,
	}
}

// Events returns the channel push events are delivered on.
func (l *Listener) Events() <-chan domain.RecordEvent {
	return l.out
}

// Run listens until ctx is cancelled. Connection problems are logged and
// retried by pq with backoff; the service keeps working poll-only in the
// meantime.
func (l *Listener) Run(ctx context.Context) {
	pl := pq.NewListener(l.connStr, listenMinReconnect, listenMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Printf("listener: connection event %d: %v", ev, err)
			}
		})
	defer pl.Close()

	for _, ch := range []string{channelApplicationInsert, channelAppointmentInsert} {
		if err := pl.Listen(ch); err != nil {
			log.Printf("listener: LISTEN %s failed: %v", ch, err)
			return
		}
	}
	log.Println("listener: started")

	ping := time.NewTicker(listenPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("listener: stopped")
			return
		case n := <-pl.Notify:
			if n == nil {
				// Reconnect marker; missed notifications are covered by poll.
				continue
			}
			l.forward(n.Channel, n.Extra)
		case <-ping.C:
			if err := pl.Ping(); err != nil {
				log.Printf("listener: ping failed: %v", err)
			}
		}
	}
}

func (l *Listener) forward(channel, payload string) {
	var kind domain.RecordKind
	switch channel {
	case channelApplicationInsert:
		kind = domain.RecordKindApplication
	case channelAppointmentInsert:
		kind = domain.RecordKindAppointment
	default:
		return
	}

	id, err := uuid.Parse(payload)
	if err != nil {
		log.Printf("listener: bad payload on %s: %q", channel, payload)
		return
	}

	event := domain.RecordEvent{
		Kind:       kind,
		RecordID:   id,
		Source:     domain.EventSourcePush,
		ObservedAt: l.clock().UTC(),
	}

	select {
	case l.out <- event:
	default:
		// Full buffer: drop, the poll path will pick the record up.
		log.Printf("listener: push buffer full, dropping %s %s", kind, id)
	}
}
