// Package reminder scans for appointments entering the upcoming window
// and fires the reminder notifications once per process lifetime.
//
// Reminders are best-effort: the sent-set is in-memory, so a restart may
// re-fire a reminder for a window that is still open. That duplicate is
// accepted; within one process each appointment is evaluated once.
package reminder

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/imutig/phmc-relay/internal/dedup"
	"github.com/imutig/phmc-relay/internal/domain"
	"github.com/imutig/phmc-relay/internal/messenger"
)

// Store defines the time-window query: appointments scheduled inside
// [from, to), regardless of markers.
type Store interface {
	UpcomingAppointments(ctx context.Context, from, to time.Time) ([]domain.Appointment, error)
}

// Messenger is the platform surface the reminder tasks use.
type Messenger interface {
	SendChannelMessage(ctx context.Context, channelID string, msg messenger.Message) (messenger.MessageRef, error)
	SendDirectMessage(ctx context.Context, userID string, msg messenger.Message) (messenger.MessageRef, error)
}

// Enqueuer is the delivery queue contract: fire-and-forget.
type Enqueuer interface {
	Enqueue(action func(context.Context) error, description string)
}

// MetricsSink defines the interface for recording reminder metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	ScanCompleted(duration time.Duration, fired int, err error)
	ReminderFired()
}

// Config holds reminder scheduler configuration.
type Config struct {
	// CronSpec drives the scan cadence, standard 5-field syntax.
	// Default: every minute.
	CronSpec string

	// Lead is how far ahead of the appointment the reminder fires.
	// Default: 5 minutes.
	Lead time.Duration

	// Window is the width of the scan window past the lead.
	// Default: 1 minute.
	Window time.Duration
}

// DefaultConfig returns the default reminder configuration.
func DefaultConfig() Config {
	return Config{
		CronSpec: "* * * * *",
		Lead:     5 * time.Minute,
		Window:   time.Minute,
	}
}

type Scheduler struct {
	config   Config
	schedule cron.Schedule
	store    Store
	api      Messenger
	queue    Enqueuer
	sent     *dedup.Set
	clock    func() time.Time
	metrics  MetricsSink // optional, nil = disabled
}

func New(config Config, store Store, api Messenger, queue Enqueuer, sent *dedup.Set) (*Scheduler, error) {
	def := DefaultConfig()
	if config.CronSpec == "" {
		config.CronSpec = def.CronSpec
	}
	if config.Lead <= 0 {
		config.Lead = def.Lead
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}

	schedule, err := cron.ParseStandard(config.CronSpec)
	if err != nil {
		return nil, fmt.Errorf("parse reminder cron %q: %w", config.CronSpec, err)
	}

	return &Scheduler{
		config:   config,
		schedule: schedule,
		store:    store,
		api:      api,
		queue:    queue,
		sent:     sent,
		clock:    time.Now,
	}, nil
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// Run executes scans on the cron schedule until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("reminder: started (cron=%q, lead=%s, window=%s)",
		s.config.CronSpec, s.config.Lead, s.config.Window)

	for {
		now := s.clock()
		next := s.schedule.Next(now)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("reminder: stopped")
			return
		case <-timer.C:
			s.scan(ctx)
		}
	}
}

// scan evaluates one window. Each matching appointment is added to the
// sent-set unconditionally: the intent is "do not re-evaluate", not
// "retry until delivered".
func (s *Scheduler) scan(ctx context.Context) {
	start := s.clock().UTC()
	from := start.Add(s.config.Lead)
	to := from.Add(s.config.Window)

	appts, err := s.store.UpcomingAppointments(ctx, from, to)
	if err != nil {
		log.Printf("reminder: scan failed: %v", err)
		if s.metrics != nil {
			s.metrics.ScanCompleted(s.clock().UTC().Sub(start), 0, err)
		}
		return
	}

	fired := 0
	for _, appt := range appts {
		if !s.sent.Add(appt.ID) {
			continue
		}
		s.fire(appt)
		fired++
	}

	if fired > 0 {
		log.Printf("reminder: fired %d reminders (window %s..%s)",
			fired, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	if s.metrics != nil {
		s.metrics.ScanCompleted(s.clock().UTC().Sub(start), fired, nil)
	}
}

// fire enqueues the up-to-three reminder notifications. Each is an
// independent task: one failing does not block the others.
func (s *Scheduler) fire(appt domain.Appointment) {
	when := "soon"
	if appt.ScheduledAt != nil {
		when = appt.ScheduledAt.UTC().Format("15:04")
	}
	ref := appt.ID.String()[:8]

	if appt.DiscordID != "" {
		userID := appt.DiscordID
		content := fmt.Sprintf("Reminder: your appointment starts at %s.", when)
		s.queue.Enqueue(func(ctx context.Context) error {
			_, err := s.api.SendDirectMessage(ctx, userID, messenger.Message{Content: content})
			return err
		}, "reminder-patient:"+ref)
	}

	if appt.AssignedDiscordID != "" && appt.AssignedDiscordID != appt.DiscordID {
		staffID := appt.AssignedDiscordID
		content := fmt.Sprintf("Reminder: appointment with %s %s at %s.", appt.FirstName, appt.LastName, when)
		s.queue.Enqueue(func(ctx context.Context) error {
			_, err := s.api.SendDirectMessage(ctx, staffID, messenger.Message{Content: content})
			return err
		}, "reminder-staff:"+ref)
	}

	if appt.ChannelID != "" {
		channelID := appt.ChannelID
		content := fmt.Sprintf("Appointment starts at %s.", when)
		s.queue.Enqueue(func(ctx context.Context) error {
			_, err := s.api.SendChannelMessage(ctx, channelID, messenger.Message{Content: content})
			return err
		}, "reminder-channel:"+ref)
	}

	if s.metrics != nil {
		s.metrics.ReminderFired()
	}
}
