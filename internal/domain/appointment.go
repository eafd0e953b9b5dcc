package domain

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusPending   AppointmentStatus = "pending"
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusClosed    AppointmentStatus = "closed"
)

// ReasonCategoryDirection marks appointments reserved for the direction team.
const ReasonCategoryDirection = "direction"

// Appointment is a patient appointment request. It carries two independent
// idempotency markers: ChannelID for the dedicated channel and DMSent for
// the acknowledgment direct message.
type Appointment struct {
	ID uuid.UUID

	Status AppointmentStatus

	FirstName string
	LastName  string
	Phone     string

	ReasonCategory string
	Reason         string

	DiscordID         string // patient's chat identity
	AssignedDiscordID string // staff member handling the appointment, may be empty

	ChannelID string // appointment channel id, empty until provisioned
	DMSent    bool   // acknowledgment DM marker

	ScheduledAt *time.Time // set once the appointment has been scheduled
	CreatedAt   time.Time
}

// HasChannel reports whether the appointment channel side effect already ran.
func (a Appointment) HasChannel() bool {
	return a.ChannelID != ""
}
