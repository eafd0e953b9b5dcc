package provision

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/imutig/phmc-relay/internal/domain"
)

// HandleRecord fetches the full record (push payloads are partial) and
// runs the side effects for it. It implements watcher.Handler.
func (p *Provisioner) HandleRecord(ctx context.Context, kind domain.RecordKind, id uuid.UUID) error {
	switch kind {
	case domain.RecordKindApplication:
		app, err := p.store.GetApplication(ctx, id)
		if err != nil {
			return fmt.Errorf("get application: %w", err)
		}
		if _, err := p.ProvisionApplication(ctx, app); err != nil {
			return fmt.Errorf("provision application: %w", err)
		}
		return nil

	case domain.RecordKindAppointment:
		appt, err := p.store.GetAppointment(ctx, id)
		if err != nil {
			return fmt.Errorf("get appointment: %w", err)
		}
		if _, err := p.ProvisionAppointment(ctx, appt); err != nil {
			return fmt.Errorf("provision appointment: %w", err)
		}
		// The ack DM has its own marker and may still be pending even
		// when the channel already exists.
		if err := p.SendAppointmentAck(ctx, appt); err != nil {
			return fmt.Errorf("appointment ack: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown record kind %q", kind)
	}
}
