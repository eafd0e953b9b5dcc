package domain

import (
	"time"

	"github.com/google/uuid"
)

type ApplicationStatus string

const (
	ApplicationStatusPending  ApplicationStatus = "pending"
	ApplicationStatusAccepted ApplicationStatus = "accepted"
	ApplicationStatusRejected ApplicationStatus = "rejected"
)

// Application is a recruitment application submitted through the web form.
// ChannelID doubles as the idempotency marker: it stays empty until the
// dedicated review channel has been created.
type Application struct {
	ID uuid.UUID

	Status  ApplicationStatus
	Service string // recruiting service label, e.g. "LSPD" or "EMS"

	FirstName    string
	LastName     string
	Seniority    string
	Motivation   string
	Availability string

	DiscordID string // applicant's chat identity, may be empty
	ChannelID string // review channel id, empty until provisioned

	CreatedAt time.Time
}

// HasChannel reports whether the review channel side effect already ran.
func (a Application) HasChannel() bool {
	return a.ChannelID != ""
}
