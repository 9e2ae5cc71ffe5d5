// Package remote defines the narrow contract to the remote Message Service
// and its HTTP adapter. Only the sync engine talks to it.
package remote

import (
	"context"
	"fmt"
)

// OutboundMessage is the push payload. ClientID is the compose-time id and
// doubles as the idempotency key: pushing the same message twice must not
// create a duplicate on the remote.
type OutboundMessage struct {
	ClientID   string
	SenderID   string
	Recipient  string
	Body       string
	ComposedAt int64
}

// InboundMessage is a message authored elsewhere, pulled from the remote.
type InboundMessage struct {
	RemoteID  string
	SenderID  string
	Recipient string
	Body      string
	SentAt    int64
}

// Receipt statuses carried by pull events.
const (
	ReceiptDelivered = "delivered"
	ReceiptRead      = "read"
)

// Receipt reports a delivery/read status change for a previously pushed
// message, identified by its remote id.
type Receipt struct {
	RemoteID string
	Status   string
}

// Event is one pull item: exactly one of Inbound or Receipt is set.
type Event struct {
	Inbound *InboundMessage
	Receipt *Receipt
}

// Service is the remote Message Service call contract. Every method honors
// ctx cancellation and bounds its network round-trip.
type Service interface {
	// PushMessage delivers one outgoing message and returns the remote id
	// assigned on acknowledgement.
	PushMessage(ctx context.Context, m OutboundMessage) (remoteID string, err error)
	// PullSince returns events newer than cursor for the given scope, plus
	// the cursor to persist once they are applied. An empty cursor means
	// "from the beginning".
	PullSince(ctx context.Context, scope, cursor string) ([]Event, string, error)
	// MarkRead acknowledges local reads of the given remote ids upstream.
	MarkRead(ctx context.Context, remoteIDs []string) error
}

// TransportError is a network or remote failure. Always retryable: the sync
// engine feeds it into the backoff policy.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
