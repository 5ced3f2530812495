// Package rest consumes the backend's conversation API. Every call is
// best-effort: the sync engine treats failures as a reason to fall back to
// the cache or the synthetic personas, never as fatal.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opencoach/chatsync/internal/model"
)

// Client talks to the conversation REST backend.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a REST client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Conversations fetches the user's conversation list.
func (c *Client) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var out []model.Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Messages fetches the full history of one conversation.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var out []model.Message
	if err := c.doJSON(ctx, http.MethodGet, "/messages/"+conversationID, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PostMessage persists a message over REST. Fallback path for when the live
// transport is unavailable.
func (c *Client) PostMessage(ctx context.Context, m model.Message) error {
	return c.doJSON(ctx, http.MethodPost, "/messages", m, nil)
}

// Archive sets the archived flag on a conversation.
func (c *Client) Archive(ctx context.Context, conversationID string, archived bool) error {
	body := map[string]bool{"archived": archived}
	return c.doJSON(ctx, http.MethodPut, "/messages/"+conversationID+"/archive", body, nil)
}

// CreateConversation opens a new conversation with the given counterpart.
func (c *Client) CreateConversation(ctx context.Context, participantEmail string) (*model.Conversation, error) {
	body := map[string]string{"participantEmail": participantEmail}
	var out model.Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/messages/create", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
