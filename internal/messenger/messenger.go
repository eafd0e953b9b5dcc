// Package messenger is the client for the external chat platform API.
//
// The platform enforces a global rate limit: a 429 response carries a
// Retry-After duration and is surfaced as *RateLimitError so callers
// (the delivery queue) can pause instead of burning retry attempts.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type CreateChannelRequest struct {
	Name     string
	ParentID string // category the channel is created under

	// AllowRoleIDs are granted view/send/history on the channel.
	// Everyone else is denied view.
	AllowRoleIDs []string
}

type Channel struct {
	ID   string
	Name string
}

type Message struct {
	Content string

	// MentionRoleIDs are role ids pinged by the message, if any.
	MentionRoleIDs []string
}

type MessageRef struct {
	ID string
}

// API is the set of platform operations the relay needs.
type API interface {
	CreateChannel(ctx context.Context, req CreateChannelRequest) (Channel, error)
	SendChannelMessage(ctx context.Context, channelID string, msg Message) (MessageRef, error)
	SendDirectMessage(ctx context.Context, userID string, msg Message) (MessageRef, error)
}

// RateLimitError is returned when the platform answers 429.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// AsRateLimit extracts the retry-after duration when err is a rate limit.
func AsRateLimit(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// APIError is any non-2xx, non-rate-limit platform response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform api status %d: %s", e.StatusCode, e.Body)
}
