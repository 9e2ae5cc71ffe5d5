package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds each network round-trip. Expiry is a TransportError
// like any other failure.
const DefaultTimeout = 10 * time.Second

// Client is the HTTP JSON adapter for the Message Service.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the service at baseURL. A zero timeout
// falls back to DefaultTimeout.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type pushRequest struct {
	ClientID   string `json:"client_id"`
	SenderID   string `json:"sender_id"`
	Recipient  string `json:"recipient"`
	Body       string `json:"body"`
	ComposedAt int64  `json:"composed_at"`
}

type pushResponse struct {
	RemoteID string `json:"remote_id"`
}

// PushMessage implements Service.
func (c *Client) PushMessage(ctx context.Context, m OutboundMessage) (string, error) {
	body, err := json.Marshal(pushRequest{
		ClientID:   m.ClientID,
		SenderID:   m.SenderID,
		Recipient:  m.Recipient,
		Body:       m.Body,
		ComposedAt: m.ComposedAt,
	})
	if err != nil {
		return "", fmt.Errorf("encode push: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", &TransportError{Op: "push", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", m.ClientID)
	c.auth(req)

	var resp pushResponse
	if err := c.do(req, "push", &resp); err != nil {
		return "", err
	}
	if resp.RemoteID == "" {
		return "", &TransportError{Op: "push", Err: fmt.Errorf("ack missing remote_id")}
	}
	return resp.RemoteID, nil
}

type pullEvent struct {
	Type      string `json:"type"` // "message" | "receipt"
	RemoteID  string `json:"remote_id"`
	SenderID  string `json:"sender_id,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Body      string `json:"body,omitempty"`
	SentAt    int64  `json:"sent_at,omitempty"`
	Status    string `json:"status,omitempty"`
}

type pullResponse struct {
	Events []pullEvent `json:"events"`
	Cursor string      `json:"cursor"`
}

// PullSince implements Service.
func (c *Client) PullSince(ctx context.Context, scope, cursor string) ([]Event, string, error) {
	q := url.Values{}
	q.Set("scope", scope)
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/sync?"+q.Encode(), nil)
	if err != nil {
		return nil, "", &TransportError{Op: "pull", Err: err}
	}
	c.auth(req)

	var resp pullResponse
	if err := c.do(req, "pull", &resp); err != nil {
		return nil, "", err
	}

	events := make([]Event, 0, len(resp.Events))
	for _, e := range resp.Events {
		switch e.Type {
		case "message":
			events = append(events, Event{Inbound: &InboundMessage{
				RemoteID:  e.RemoteID,
				SenderID:  e.SenderID,
				Recipient: e.Recipient,
				Body:      e.Body,
				SentAt:    e.SentAt,
			}})
		case "receipt":
			events = append(events, Event{Receipt: &Receipt{
				RemoteID: e.RemoteID,
				Status:   e.Status,
			}})
		default:
			// Unknown event types from newer servers are skipped.
		}
	}
	next := resp.Cursor
	if next == "" {
		next = cursor
	}
	return events, next, nil
}

type markReadRequest struct {
	RemoteIDs []string `json:"remote_ids"`
}

// MarkRead implements Service.
func (c *Client) MarkRead(ctx context.Context, remoteIDs []string) error {
	if len(remoteIDs) == 0 {
		return nil
	}
	body, err := json.Marshal(markReadRequest{RemoteIDs: remoteIDs})
	if err != nil {
		return fmt.Errorf("encode mark read: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages/read", bytes.NewReader(body))
	if err != nil {
		return &TransportError{Op: "mark_read", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)
	return c.do(req, "mark_read", nil)
}

func (c *Client) auth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: op, StatusCode: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
