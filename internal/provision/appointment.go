package provision

import (
	"context"
	"fmt"
	"log"

	"github.com/imutig/phmc-relay/internal/domain"
	"github.com/imutig/phmc-relay/internal/messenger"
)

// Config table keys for appointment provisioning.
const (
	keyAppointmentCategory = "appointments_category_id"
	keyMedicalRole         = "medical_staff_role_id"
	keyDirectionRole       = "direction_role_id"
)

// ProvisionAppointment creates the appointment channel and enqueues the
// follow-up notifications. Same contract as ProvisionApplication.
func (p *Provisioner) ProvisionAppointment(ctx context.Context, appt domain.Appointment) (string, error) {
	existing, err := p.store.AppointmentChannelID(ctx, appt.ID)
	if err != nil {
		return "", fmt.Errorf("re-check appointment %s: %w", appt.ID, err)
	}
	if existing != "" {
		log.Printf("provision: appointment %s already has channel %s, skipping", appt.ID, existing)
		if p.metrics != nil {
			p.metrics.ProvisionSkipped(string(domain.RecordKindAppointment))
		}
		p.record(ctx, domain.RecordKindAppointment, OutcomeSkipped)
		return existing, nil
	}

	values, err := p.store.ConfigValues(ctx, []string{keyAppointmentCategory, keyMedicalRole, keyDirectionRole})
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	categoryID := values[keyAppointmentCategory]
	if categoryID == "" {
		return "", ErrCategoryNotConfigured
	}

	// Direction appointments are visible to the direction team only;
	// everything else is shared with the medical staff.
	var allowRoles []string
	if appt.ReasonCategory == domain.ReasonCategoryDirection {
		if role := values[keyDirectionRole]; role != "" {
			allowRoles = append(allowRoles, role)
		}
	} else {
		if role := values[keyMedicalRole]; role != "" {
			allowRoles = append(allowRoles, role)
		}
		if role := values[keyDirectionRole]; role != "" {
			allowRoles = append(allowRoles, role)
		}
	}

	ch, err := p.api.CreateChannel(ctx, messenger.CreateChannelRequest{
		Name:         channelName("appt", appt.FirstName, appt.LastName),
		ParentID:     categoryID,
		AllowRoleIDs: allowRoles,
	})
	if err != nil {
		if p.metrics != nil {
			p.metrics.ProvisionFailed(string(domain.RecordKindAppointment))
		}
		p.record(ctx, domain.RecordKindAppointment, OutcomeFailed)
		return "", fmt.Errorf("create channel: %w", err)
	}

	if err := p.store.SetAppointmentChannel(ctx, appt.ID, ch.ID); err != nil {
		log.Printf("provision: failed to persist channel %s on appointment %s: %v", ch.ID, appt.ID, err)
	}

	p.enqueueAppointmentMessages(appt, ch.ID, allowRoles)

	log.Printf("provision: channel %s created for appointment %s", ch.ID, appt.ID)
	if p.metrics != nil {
		p.metrics.ChannelProvisioned(string(domain.RecordKindAppointment))
	}
	p.record(ctx, domain.RecordKindAppointment, OutcomeProvisioned)
	return ch.ID, nil
}

func (p *Provisioner) enqueueAppointmentMessages(appt domain.Appointment, channelID string, allowRoles []string) {
	phone := appt.Phone
	if phone == "" {
		phone = "not provided"
	}
	welcome := fmt.Sprintf(
		"New appointment request: %s %s\nPhone: %s\nType: %s\nDetails: %s\nStatus: awaiting triage (ref %s)",
		appt.FirstName, appt.LastName, phone,
		appt.ReasonCategory, truncate(appt.Reason, 500), shortRef(appt.ID),
	)
	p.queue.Enqueue(func(ctx context.Context) error {
		_, err := p.api.SendChannelMessage(ctx, channelID, messenger.Message{Content: welcome})
		return err
	}, "appointment-welcome:"+shortRef(appt.ID))

	if len(allowRoles) > 0 {
		p.queue.Enqueue(func(ctx context.Context) error {
			_, err := p.api.SendChannelMessage(ctx, channelID, messenger.Message{
				Content:        "New appointment to handle.",
				MentionRoleIDs: allowRoles,
			})
			return err
		}, "appointment-mention:"+shortRef(appt.ID))
	}

	link := fmt.Sprintf("Patient record: %s/intranet/appointments/%s", p.config.WebBaseURL, appt.ID)
	p.queue.Enqueue(func(ctx context.Context) error {
		_, err := p.api.SendChannelMessage(ctx, channelID, messenger.Message{Content: link})
		return err
	}, "appointment-link:"+shortRef(appt.ID))
}

// SendAppointmentAck sends the acknowledgment DM to the patient, guarded
// by the dm_sent marker. The marker is persisted only after the send
// succeeds, so a dropped task leaves the record eligible for the next
// reconciliation pass.
func (p *Provisioner) SendAppointmentAck(ctx context.Context, appt domain.Appointment) error {
	sent, err := p.store.AppointmentDMSent(ctx, appt.ID)
	if err != nil {
		return fmt.Errorf("re-check appointment DM %s: %w", appt.ID, err)
	}
	if sent {
		log.Printf("provision: appointment %s DM already sent, skipping", appt.ID)
		return nil
	}
	if appt.DiscordID == "" {
		return nil
	}

	content := fmt.Sprintf(
		"Hello %s, your appointment request has been received (ref %s). Our medical team will contact you soon. You can reply to this message to reach them.",
		appt.FirstName, shortRef(appt.ID),
	)
	apptID := appt.ID
	userID := appt.DiscordID
	p.queue.Enqueue(func(ctx context.Context) error {
		if _, err := p.api.SendDirectMessage(ctx, userID, messenger.Message{Content: content}); err != nil {
			return err
		}
		// Mark only after a successful send.
		if err := p.store.SetAppointmentDMSent(ctx, apptID); err != nil {
			log.Printf("provision: failed to mark DM sent for appointment %s: %v", apptID, err)
		}
		return nil
	}, "appointment-ack:"+shortRef(appt.ID))
	return nil
}
