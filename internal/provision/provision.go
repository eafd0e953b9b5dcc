// Package provision creates the side-effect resources for new records: a
// dedicated channel on the chat platform plus follow-up notifications.
//
// Side effects are guarded by persisted markers on the record (channel id,
// DM flag). The marker is always re-read from the store immediately before
// acting, never trusted from the record the caller holds, so near
// simultaneous invocations from the push and poll paths converge on a
// single resource.
package provision

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/imutig/phmc-relay/internal/domain"
	"github.com/imutig/phmc-relay/internal/messenger"
)

// ErrCategoryNotConfigured is returned when the channel category for a
// record kind has not been set up in the config table.
var ErrCategoryNotConfigured = errors.New("channel category not configured")

// Store is the persistence surface the provisioner needs: marker re-reads,
// single-field marker writes, and the config-table lookups.
type Store interface {
	GetApplication(ctx context.Context, id uuid.UUID) (domain.Application, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)

	ApplicationChannelID(ctx context.Context, id uuid.UUID) (string, error)
	SetApplicationChannel(ctx context.Context, id uuid.UUID, channelID string) error
	CountApplicationDocuments(ctx context.Context, id uuid.UUID) (int, error)

	AppointmentChannelID(ctx context.Context, id uuid.UUID) (string, error)
	SetAppointmentChannel(ctx context.Context, id uuid.UUID, channelID string) error
	AppointmentDMSent(ctx context.Context, id uuid.UUID) (bool, error)
	SetAppointmentDMSent(ctx context.Context, id uuid.UUID) error

	ConfigValues(ctx context.Context, keys []string) (map[string]string, error)
}

// Enqueuer is the delivery queue contract: fire-and-forget.
type Enqueuer interface {
	Enqueue(action func(context.Context) error, description string)
}

// AnalyticsSink records provisioning outcomes as a best-effort side effect.
type AnalyticsSink interface {
	Record(ctx context.Context, kind domain.RecordKind, outcome string)
}

// MetricsSink defines the interface for recording provisioning metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	ChannelProvisioned(kind string)
	ProvisionSkipped(kind string)
	ProvisionFailed(kind string)
}

// Outcome labels for AnalyticsSink.Record.
const (
	OutcomeProvisioned = "provisioned"
	OutcomeSkipped     = "skipped"
	OutcomeFailed      = "failed"
)

// Messenger is the platform API surface the provisioner uses. Channel
// creation is called directly; follow-up messages go through the Enqueuer.
type Messenger interface {
	CreateChannel(ctx context.Context, req messenger.CreateChannelRequest) (messenger.Channel, error)
	SendChannelMessage(ctx context.Context, channelID string, msg messenger.Message) (messenger.MessageRef, error)
	SendDirectMessage(ctx context.Context, userID string, msg messenger.Message) (messenger.MessageRef, error)
}

type Config struct {
	// WebBaseURL is the operator console base URL used in record links.
	WebBaseURL string
}

type Provisioner struct {
	store     Store
	api       Messenger
	queue     Enqueuer
	config    Config
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
}

func New(store Store, api Messenger, queue Enqueuer, config Config) *Provisioner {
	return &Provisioner{
		store:  store,
		api:    api,
		queue:  queue,
		config: config,
	}
}

// WithAnalytics attaches an analytics sink to the provisioner.
func (p *Provisioner) WithAnalytics(sink AnalyticsSink) *Provisioner {
	p.analytics = sink
	return p
}

// WithMetrics attaches a metrics sink to the provisioner.
func (p *Provisioner) WithMetrics(sink MetricsSink) *Provisioner {
	p.metrics = sink
	return p
}

func (p *Provisioner) record(ctx context.Context, kind domain.RecordKind, outcome string) {
	if p.analytics != nil {
		p.analytics.Record(ctx, kind, outcome)
	}
}

const maxChannelNameLen = 32

// channelName builds a platform-safe channel name from name parts:
// lowercase ascii, dashes between words, capped length.
func channelName(parts ...string) string {
	var b strings.Builder
	for i, part := range parts {
		if i > 0 {
			b.WriteByte('-')
		}
		for _, r := range strings.ToLower(part) {
			b.WriteRune(foldRune(r))
		}
	}

	name := b.String()
	for strings.Contains(name, "--") {
		name = strings.ReplaceAll(name, "--", "-")
	}
	name = strings.Trim(name, "-")
	if len(name) > maxChannelNameLen {
		name = strings.Trim(name[:maxChannelNameLen], "-")
	}
	return name
}

// foldRune strips common accents and maps anything else outside
// [a-z0-9-] to a dash.
func foldRune(r rune) rune {
	switch r {
	case 'à', 'â', 'ä', 'á', 'ã':
		return 'a'
	case 'é', 'è', 'ê', 'ë':
		return 'e'
	case 'î', 'ï', 'í':
		return 'i'
	case 'ô', 'ö', 'ó', 'õ':
		return 'o'
	case 'ù', 'û', 'ü', 'ú':
		return 'u'
	case 'ç':
		return 'c'
	case 'ñ':
		return 'n'
	}
	if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
		return r
	}
	return '-'
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func shortRef(id uuid.UUID) string {
	return id.String()[:8]
}
