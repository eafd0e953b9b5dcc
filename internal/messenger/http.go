package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Breaker guards platform calls against sustained hard failures.
// Keys are endpoint classes, not full URLs.
type Breaker interface {
	Allow(key string) error
	RecordSuccess(key string)
	RecordFailure(key string)
}

const (
	endpointChannels = "channels.create"
	endpointMessages = "messages.send"
	endpointDMs      = "dm.send"
)

const defaultTimeout = 15 * time.Second

// HTTPClient implements API against the platform's REST interface.
type HTTPClient struct {
	baseURL string
	token   string
	guildID string
	client  *http.Client
	timeout time.Duration
	breaker Breaker // optional, nil = disabled
}

func NewHTTPClient(baseURL, token, guildID string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		guildID: guildID,
		client:  &http.Client{},
		timeout: defaultTimeout,
	}
}

// WithBreaker attaches a circuit breaker to the client.
func (c *HTTPClient) WithBreaker(b Breaker) *HTTPClient {
	c.breaker = b
	return c
}

// WithTimeout overrides the per-request timeout.
func (c *HTTPClient) WithTimeout(d time.Duration) *HTTPClient {
	c.timeout = d
	return c
}

func (c *HTTPClient) CreateChannel(ctx context.Context, req CreateChannelRequest) (Channel, error) {
	body := struct {
		Name         string   `json:"name"`
		ParentID     string   `json:"parent_id,omitempty"`
		AllowRoleIDs []string `json:"allow_role_ids,omitempty"`
	}{req.Name, req.ParentID, req.AllowRoleIDs}

	var resp struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	path := fmt.Sprintf("/guilds/%s/channels", c.guildID)
	if err := c.post(ctx, endpointChannels, path, body, &resp); err != nil {
		return Channel{}, err
	}
	return Channel{ID: resp.ID, Name: resp.Name}, nil
}

func (c *HTTPClient) SendChannelMessage(ctx context.Context, channelID string, msg Message) (MessageRef, error) {
	return c.sendMessage(ctx, endpointMessages, fmt.Sprintf("/channels/%s/messages", channelID), msg)
}

func (c *HTTPClient) SendDirectMessage(ctx context.Context, userID string, msg Message) (MessageRef, error) {
	return c.sendMessage(ctx, endpointDMs, fmt.Sprintf("/users/%s/messages", userID), msg)
}

func (c *HTTPClient) sendMessage(ctx context.Context, endpoint, path string, msg Message) (MessageRef, error) {
	body := struct {
		Content        string   `json:"content"`
		MentionRoleIDs []string `json:"mention_role_ids,omitempty"`
	}{msg.Content, msg.MentionRoleIDs}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, endpoint, path, body, &resp); err != nil {
		return MessageRef{}, err
	}
	return MessageRef{ID: resp.ID}, nil
}

// post performs a JSON POST and decodes a 2xx response into out.
// Breaker accounting: 5xx and transport errors count as failures;
// 429 and 4xx do not (the platform is healthy, the request is not).
func (c *HTTPClient) post(ctx context.Context, endpoint, path string, in, out any) error {
	if c.breaker != nil {
		if err := c.breaker.Allow(endpoint); err != nil {
			return fmt.Errorf("%s: %w", endpoint, err)
		}
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		if c.breaker != nil {
			c.breaker.RecordFailure(endpoint)
		}
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: retryAfter(resp)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if c.breaker != nil && resp.StatusCode >= 500 {
			c.breaker.RecordFailure(endpoint)
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if c.breaker != nil {
		c.breaker.RecordSuccess(endpoint)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

const defaultRetryAfter = 5 * time.Second

// retryAfter reads the Retry-After header (seconds, fractions allowed).
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs * float64(time.Second))
}
