package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/imutig/phmc-relay/internal/domain"
	"github.com/imutig/phmc-relay/internal/provision"
	"github.com/imutig/phmc-relay/internal/reminder"
	"github.com/imutig/phmc-relay/internal/watcher"
)

// Store implements the provision, watcher, and reminder store interfaces
// using PostgreSQL. All marker writes are single-statement updates: the
// same value applied twice is harmless, which is what makes the benign
// read-then-write race acceptable.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a new PostgreSQL store with the given database connection.
// opTimeout bounds every operation; 0 disables the bound.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// GetApplication returns an application by id.
func (s *Store) GetApplication(ctx context.Context, id uuid.UUID) (domain.Application, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var app domain.Application
	var status string
	var discordID, channelID sql.NullString

	err := s.db.QueryRowContext(ctx, queryGetApplication, id).Scan(
		&app.ID,
		&status,
		&app.Service,
		&app.FirstName,
		&app.LastName,
		&app.Seniority,
		&app.Motivation,
		&app.Availability,
		&discordID,
		&channelID,
		&app.CreatedAt,
	)
	if err != nil {
		return domain.Application{}, err
	}
	app.Status = domain.ApplicationStatus(status)
	app.DiscordID = discordID.String
	app.ChannelID = channelID.String
	return app, nil
}

// GetAppointment returns an appointment by id.
func (s *Store) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, queryGetAppointment, id)
	return scanAppointment(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (domain.Appointment, error) {
	var appt domain.Appointment
	var status string
	var phone, discordID, assignedID, channelID sql.NullString
	var scheduledAt sql.NullTime

	err := row.Scan(
		&appt.ID,
		&status,
		&appt.FirstName,
		&appt.LastName,
		&phone,
		&appt.ReasonCategory,
		&appt.Reason,
		&discordID,
		&assignedID,
		&channelID,
		&appt.DMSent,
		&scheduledAt,
		&appt.CreatedAt,
	)
	if err != nil {
		return domain.Appointment{}, err
	}
	appt.Status = domain.AppointmentStatus(status)
	appt.Phone = phone.String
	appt.DiscordID = discordID.String
	appt.AssignedDiscordID = assignedID.String
	appt.ChannelID = channelID.String
	if scheduledAt.Valid {
		t := scheduledAt.Time
		appt.ScheduledAt = &t
	}
	return appt, nil
}

// PendingApplicationIDs returns ids of applications with no channel yet,
// still in the initial status, oldest first.
func (s *Store) PendingApplicationIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.queryIDs(ctx, queryPendingApplicationIDs)
}

// PendingAppointmentIDs returns ids of appointments with at least one
// unset marker, still in the initial status, oldest first.
func (s *Store) PendingAppointmentIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.queryIDs(ctx, queryPendingAppointmentIDs)
}

func (s *Store) queryIDs(ctx context.Context, query string) ([]uuid.UUID, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ApplicationChannelID returns the current channel marker for an
// application, empty when unset.
func (s *Store) ApplicationChannelID(ctx context.Context, id uuid.UUID) (string, error) {
	return s.queryMarker(ctx, queryApplicationChannelID, id)
}

// AppointmentChannelID returns the current channel marker for an
// appointment, empty when unset.
func (s *Store) AppointmentChannelID(ctx context.Context, id uuid.UUID) (string, error) {
	return s.queryMarker(ctx, queryAppointmentChannelID, id)
}

func (s *Store) queryMarker(ctx context.Context, query string, id uuid.UUID) (string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var marker sql.NullString
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&marker); err != nil {
		return "", err
	}
	return marker.String, nil
}

// SetApplicationChannel persists the channel id marker.
func (s *Store) SetApplicationChannel(ctx context.Context, id uuid.UUID, channelID string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, querySetApplicationChannel, channelID, id)
	return err
}

// SetAppointmentChannel persists the channel id marker.
func (s *Store) SetAppointmentChannel(ctx context.Context, id uuid.UUID, channelID string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, querySetAppointmentChannel, channelID, id)
	return err
}

// AppointmentDMSent returns the acknowledgment DM marker.
func (s *Store) AppointmentDMSent(ctx context.Context, id uuid.UUID) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var sent bool
	if err := s.db.QueryRowContext(ctx, queryAppointmentDMSent, id).Scan(&sent); err != nil {
		return false, err
	}
	return sent, nil
}

// SetAppointmentDMSent marks the acknowledgment DM as sent.
func (s *Store) SetAppointmentDMSent(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, querySetAppointmentDMSent, id)
	return err
}

// ConfigValues returns the requested rows from the config table. Missing
// keys are simply absent from the result.
func (s *Store) ConfigValues(ctx context.Context, keys []string) (map[string]string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryConfigValues, pq.Array(keys))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]string, len(keys))
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = value
	}
	return values, rows.Err()
}

// CountApplicationDocuments returns how many documents were uploaded for
// an application.
func (s *Store) CountApplicationDocuments(ctx context.Context, id uuid.UUID) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var count int
	if err := s.db.QueryRowContext(ctx, queryCountApplicationDocuments, id).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// UpcomingAppointments returns scheduled appointments whose start time
// falls within [from, to), oldest first.
func (s *Store) UpcomingAppointments(ctx context.Context, from, to time.Time) ([]domain.Appointment, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryUpcomingAppointments, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, appt)
	}
	return result, rows.Err()
}

// Compile-time interface assertions
var (
	_ provision.Store = (*Store)(nil)
	_ watcher.Store   = (*Store)(nil)
	_ reminder.Store  = (*Store)(nil)
)
