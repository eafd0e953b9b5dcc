package domain

import (
	"time"

	"github.com/google/uuid"
)

type RecordKind string

const (
	RecordKindApplication RecordKind = "application"
	RecordKindAppointment RecordKind = "appointment"
)

type EventSource string

const (
	EventSourcePush EventSource = "push"
	EventSourcePoll EventSource = "poll"
)

// RecordEvent signals that a record may need provisioning. Both the push
// and poll paths emit these; duplicates are expected and deduplicated
// downstream.
type RecordEvent struct {
	Kind     RecordKind
	RecordID uuid.UUID
	Source   EventSource

	ObservedAt time.Time
}
