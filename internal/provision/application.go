package provision

import (
	"context"
	"fmt"
	"log"

	"github.com/imutig/phmc-relay/internal/domain"
	"github.com/imutig/phmc-relay/internal/messenger"
)

// Config table keys for application provisioning.
const (
	keyApplicationCategory = "ems_category_id"
	keyRecruiterRole       = "ems_recruiter_role_id"
)

// ProvisionApplication creates the review channel for an application and
// enqueues the follow-up notifications. It returns the channel id, which
// may belong to a previously created channel when the marker is already
// set. An empty id with a non-nil error means the record stays eligible
// for retry on the next event.
func (p *Provisioner) ProvisionApplication(ctx context.Context, app domain.Application) (string, error) {
	// Guard re-check against current store state, not the caller's copy.
	existing, err := p.store.ApplicationChannelID(ctx, app.ID)
	if err != nil {
		return "", fmt.Errorf("re-check application %s: %w", app.ID, err)
	}
	if existing != "" {
		log.Printf("provision: application %s already has channel %s, skipping", app.ID, existing)
		if p.metrics != nil {
			p.metrics.ProvisionSkipped(string(domain.RecordKindApplication))
		}
		p.record(ctx, domain.RecordKindApplication, OutcomeSkipped)
		return existing, nil
	}

	values, err := p.store.ConfigValues(ctx, []string{keyApplicationCategory, keyRecruiterRole})
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	categoryID := values[keyApplicationCategory]
	recruiterRole := values[keyRecruiterRole]
	if categoryID == "" {
		return "", ErrCategoryNotConfigured
	}

	req := messenger.CreateChannelRequest{
		Name:     channelName(app.FirstName, app.LastName),
		ParentID: categoryID,
	}
	if recruiterRole != "" {
		req.AllowRoleIDs = []string{recruiterRole}
	}

	ch, err := p.api.CreateChannel(ctx, req)
	if err != nil {
		if p.metrics != nil {
			p.metrics.ProvisionFailed(string(domain.RecordKindApplication))
		}
		p.record(ctx, domain.RecordKindApplication, OutcomeFailed)
		return "", fmt.Errorf("create channel: %w", err)
	}

	// This write is the idempotency marker. The same value may be applied
	// twice by a lost race; that is harmless.
	if err := p.store.SetApplicationChannel(ctx, app.ID, ch.ID); err != nil {
		log.Printf("provision: failed to persist channel %s on application %s: %v", ch.ID, app.ID, err)
	}

	p.enqueueApplicationMessages(app, ch.ID, recruiterRole)

	if app.DiscordID != "" {
		p.enqueueApplicationAck(app)
	}

	docs, err := p.store.CountApplicationDocuments(ctx, app.ID)
	if err != nil {
		log.Printf("provision: failed to count documents for application %s: %v", app.ID, err)
	} else if docs > 0 {
		channelID := ch.ID
		content := fmt.Sprintf("Documents provided: %d. Open the record in the console to review them.\n%s/intranet/applications/%s",
			docs, p.config.WebBaseURL, app.ID)
		p.queue.Enqueue(func(ctx context.Context) error {
			_, err := p.api.SendChannelMessage(ctx, channelID, messenger.Message{Content: content})
			return err
		}, "application-docs:"+shortRef(app.ID))
	}

	log.Printf("provision: channel %s created for application %s", ch.ID, app.ID)
	if p.metrics != nil {
		p.metrics.ChannelProvisioned(string(domain.RecordKindApplication))
	}
	p.record(ctx, domain.RecordKindApplication, OutcomeProvisioned)
	return ch.ID, nil
}

func (p *Provisioner) enqueueApplicationMessages(app domain.Application, channelID, recruiterRole string) {
	welcome := fmt.Sprintf(
		"New %s application: %s %s\nSeniority: %s\nAvailability: %s\nMotivation: %s\nStatus: pending review (ref %s)",
		app.Service, app.FirstName, app.LastName,
		app.Seniority, app.Availability,
		truncate(app.Motivation, 500), shortRef(app.ID),
	)
	p.queue.Enqueue(func(ctx context.Context) error {
		_, err := p.api.SendChannelMessage(ctx, channelID, messenger.Message{Content: welcome})
		return err
	}, "application-welcome:"+shortRef(app.ID))

	if recruiterRole != "" {
		p.queue.Enqueue(func(ctx context.Context) error {
			_, err := p.api.SendChannelMessage(ctx, channelID, messenger.Message{
				Content:        "New application to review.",
				MentionRoleIDs: []string{recruiterRole},
			})
			return err
		}, "application-mention:"+shortRef(app.ID))
	}
}

// enqueueApplicationAck sends the acknowledgment DM to the applicant.
// Applications carry no DM marker: the ack rides on the channel-creation
// pass and is best-effort beyond the queue's own retries.
func (p *Provisioner) enqueueApplicationAck(app domain.Application) {
	content := fmt.Sprintf(
		"Hello %s, your %s application has been received (ref %s). Our recruitment team will review it and contact you soon. You can reply to this message to reach the recruiters.",
		app.FirstName, app.Service, shortRef(app.ID),
	)
	userID := app.DiscordID
	p.queue.Enqueue(func(ctx context.Context) error {
		_, err := p.api.SendDirectMessage(ctx, userID, messenger.Message{Content: content})
		return err
	}, "application-ack:"+shortRef(app.ID))
}
