package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestCreateChannel(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "ch-9", "name": "jean-dupont"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "secret", "guild-1")
	ch, err := c.CreateChannel(context.Background(), CreateChannelRequest{
		Name:         "jean-dupont",
		ParentID:     "cat-1",
		AllowRoleIDs: []string{"role-1"},
	})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if ch.ID != "ch-9" {
		t.Errorf("id = %q, want ch-9", ch.ID)
	}
	if gotPath != "/guilds/guild-1/channels" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bot secret" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotBody["parent_id"] != "cat-1" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestSendChannelMessagePath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "m-1"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "secret", "guild-1")
	if _, err := c.SendChannelMessage(context.Background(), "ch-9", Message{Content: "hi"}); err != nil {
		t.Fatalf("SendChannelMessage: %v", err)
	}
	if gotPath != "/channels/ch-9/messages" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestRateLimitResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2.5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "secret", "guild-1")
	_, err := c.SendDirectMessage(context.Background(), "user-1", Message{Content: "hi"})

	retryAfter, ok := AsRateLimit(err)
	if !ok {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if retryAfter != 2500*time.Millisecond {
		t.Errorf("retryAfter = %s, want 2.5s", retryAfter)
	}
}

func TestRateLimitDefaultRetryAfter(t *testing.T) {
	for _, header := range []string{"", "soon", "-3"} {
		header := header
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if header != "" {
				w.Header().Set("Retry-After", header)
			}
			w.WriteHeader(http.StatusTooManyRequests)
		}))

		c := NewHTTPClient(srv.URL, "secret", "guild-1")
		_, err := c.SendDirectMessage(context.Background(), "user-1", Message{Content: "hi"})
		srv.Close()

		retryAfter, ok := AsRateLimit(err)
		if !ok {
			t.Fatalf("header %q: err = %v, want RateLimitError", header, err)
		}
		if retryAfter != defaultRetryAfter {
			t.Errorf("header %q: retryAfter = %s, want %s", header, retryAfter, defaultRetryAfter)
		}
	}
}

func TestAPIErrorCarriesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("missing access"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "secret", "guild-1")
	_, err := c.SendDirectMessage(context.Background(), "user-1", Message{Content: "hi"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", apiErr.StatusCode)
	}
	if apiErr.Body != "missing access" {
		t.Errorf("body = %q", apiErr.Body)
	}
}

type fakeBreaker struct {
	mu        sync.Mutex
	allowErr  error
	successes []string
	failures  []string
}

func (b *fakeBreaker) Allow(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowErr
}

func (b *fakeBreaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successes = append(b.successes, key)
}

func (b *fakeBreaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, key)
}

func TestBreakerAccounting(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "m-1"})
	}))
	defer srv.Close()

	b := &fakeBreaker{}
	c := NewHTTPClient(srv.URL, "secret", "guild-1").WithBreaker(b)

	if _, err := c.SendDirectMessage(context.Background(), "u", Message{Content: "x"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(b.successes) != 1 || b.successes[0] != "dm.send" {
		t.Errorf("successes = %v, want [dm.send]", b.successes)
	}

	// 5xx counts as a failure.
	status = http.StatusBadGateway
	_, _ = c.SendDirectMessage(context.Background(), "u", Message{Content: "x"})
	if len(b.failures) != 1 {
		t.Errorf("failures = %v, want one entry", b.failures)
	}

	// 4xx does not.
	status = http.StatusNotFound
	_, _ = c.SendDirectMessage(context.Background(), "u", Message{Content: "x"})
	if len(b.failures) != 1 {
		t.Errorf("failures = %v, 4xx must not count", b.failures)
	}
}

func TestBreakerOpenShortCircuits(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	b := &fakeBreaker{allowErr: errors.New("circuit breaker is open")}
	c := NewHTTPClient(srv.URL, "secret", "guild-1").WithBreaker(b)

	if _, err := c.SendDirectMessage(context.Background(), "u", Message{Content: "x"}); err == nil {
		t.Fatal("expected error from open breaker")
	}
	if called {
		t.Fatal("request reached the server despite open breaker")
	}
}

func TestAsRateLimitNonMatch(t *testing.T) {
	if _, ok := AsRateLimit(errors.New("plain")); ok {
		t.Fatal("plain error matched as rate limit")
	}
	if _, ok := AsRateLimit(nil); ok {
		t.Fatal("nil matched as rate limit")
	}
}
