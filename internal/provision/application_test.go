package provision

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/imutig/phmc-relay/internal/domain"
)

func pendingApplication() domain.Application {
	return domain.Application{
		ID:           uuid.New(),
		Status:       domain.ApplicationStatusPending,
		Service:      "EMS",
		FirstName:    "Jean",
		LastName:     "Dupont",
		Seniority:    "2 years",
		Motivation:   "I want to help.",
		Availability: "evenings",
		DiscordID:    "user-42",
	}
}

func TestProvisionApplicationCreatesChannel(t *testing.T) {
	p, store, api, q := newTestProvisioner()
	store.config[keyApplicationCategory] = "cat-1"
	store.config[keyRecruiterRole] = "role-1"

	app := pendingApplication()
	store.apps[app.ID] = app

	channelID, err := p.ProvisionApplication(context.Background(), app)
	if err != nil {
		t.Fatalf("ProvisionApplication: %v", err)
	}
	if channelID == "" {
		t.Fatal("empty channel id")
	}

	if api.createCount() != 1 {
		t.Fatalf("channels created = %d, want 1", api.createCount())
	}
	req := api.channels[0]
	if req.Name != "jean-dupont" {
		t.Errorf("channel name = %q, want jean-dupont", req.Name)
	}
	if req.ParentID != "cat-1" {
		t.Errorf("parent = %q, want cat-1", req.ParentID)
	}
	if len(req.AllowRoleIDs) != 1 || req.AllowRoleIDs[0] != "role-1" {
		t.Errorf("allow roles = %v, want [role-1]", req.AllowRoleIDs)
	}

	// Marker persisted.
	if store.appChannels[app.ID] != channelID {
		t.Errorf("marker = %q, want %q", store.appChannels[app.ID], channelID)
	}

	// Welcome, recruiter mention and applicant ack were enqueued.
	if n := q.described("application-welcome:"); n != 1 {
		t.Errorf("welcome tasks = %d, want 1", n)
	}
	if n := q.described("application-mention:"); n != 1 {
		t.Errorf("mention tasks = %d, want 1", n)
	}
	if n := q.described("application-ack:"); n != 1 {
		t.Errorf("ack tasks = %d, want 1", n)
	}
	if len(api.dms["user-42"]) != 1 {
		t.Errorf("applicant DMs = %d, want 1", len(api.dms["user-42"]))
	}
}

func TestProvisionApplicationSecondCallSkips(t *testing.T) {
	p, store, api, _ := newTestProvisioner()
	store.config[keyApplicationCategory] = "cat-1"

	app := pendingApplication()
	first, err := p.ProvisionApplication(context.Background(), app)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}

	// Second delivery of the same logical event (poll after push).
	second, err := p.ProvisionApplication(context.Background(), app)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if second != first {
		t.Errorf("second call returned %q, want %q", second, first)
	}
	if api.createCount() != 1 {
		t.Fatalf("channels created = %d, want 1", api.createCount())
	}
}

func TestProvisionApplicationStaleCallerCopy(t *testing.T) {
	p, store, api, _ := newTestProvisioner()
	store.config[keyApplicationCategory] = "cat-1"

	app := pendingApplication()
	// Marker was set between the caller's read and this call.
	store.appChannels[app.ID] = "ch-existing"

	got, err := p.ProvisionApplication(context.Background(), app)
	if err != nil {
		t.Fatalf("ProvisionApplication: %v", err)
	}
	if got != "ch-existing" {
		t.Errorf("channel = %q, want ch-existing", got)
	}
	if api.createCount() != 0 {
		t.Fatalf("channels created = %d, want 0", api.createCount())
	}
}

func TestProvisionApplicationCategoryMissing(t *testing.T) {
	p, _, api, _ := newTestProvisioner()

	app := pendingApplication()
	_, err := p.ProvisionApplication(context.Background(), app)
	if !errors.Is(err, ErrCategoryNotConfigured) {
		t.Fatalf("err = %v, want ErrCategoryNotConfigured", err)
	}
	if api.createCount() != 0 {
		t.Fatal("channel created without a category")
	}
}

func TestProvisionApplicationCreateFailureLeavesMarkerUnset(t *testing.T) {
	p, store, api, _ := newTestProvisioner()
	store.config[keyApplicationCategory] = "cat-1"
	api.createErr = errors.New("platform down")

	app := pendingApplication()
	_, err := p.ProvisionApplication(context.Background(), app)
	if err == nil {
		t.Fatal("expected error")
	}
	if store.appChannels[app.ID] != "" {
		t.Error("marker set despite create failure")
	}
}

func TestProvisionApplicationDocumentsNotice(t *testing.T) {
	p, store, _, q := newTestProvisioner()
	store.config[keyApplicationCategory] = "cat-1"

	app := pendingApplication()
	store.docs[app.ID] = 2

	if _, err := p.ProvisionApplication(context.Background(), app); err != nil {
		t.Fatalf("ProvisionApplication: %v", err)
	}
	if n := q.described("application-docs:"); n != 1 {
		t.Errorf("docs tasks = %d, want 1", n)
	}
}

func TestProvisionApplicationNoDiscordIDSkipsAck(t *testing.T) {
	p, store, _, q := newTestProvisioner()
	store.config[keyApplicationCategory] = "cat-1"

	app := pendingApplication()
	app.DiscordID = ""

	if _, err := p.ProvisionApplication(context.Background(), app); err != nil {
		t.Fatalf("ProvisionApplication: %v", err)
	}
	if n := q.described("application-ack:"); n != 0 {
		t.Errorf("ack tasks = %d, want 0", n)
	}
}

func TestHandleRecordApplication(t *testing.T) {
	p, store, api, _ := newTestProvisioner()
	store.config[keyApplicationCategory] = "cat-1"

	app := pendingApplication()
	store.apps[app.ID] = app

	if err := p.HandleRecord(context.Background(), domain.RecordKindApplication, app.ID); err != nil {
		t.Fatalf("HandleRecord: %v", err)
	}
	if api.createCount() != 1 {
		t.Fatalf("channels created = %d, want 1", api.createCount())
	}
}

func TestHandleRecordUnknownKind(t *testing.T) {
	p, _, _, _ := newTestProvisioner()
	if err := p.HandleRecord(context.Background(), domain.RecordKind("mystery"), uuid.New()); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
