package store

import "github.com/rfaguiar/courier/internal/status"

// Message directions.
const (
	DirectionOut = "out"
	DirectionIn  = "in"
)

// Message is the central persisted entity: one locally-owned message record.
// ID is assigned at compose time and never changes; RemoteID is set once on
// remote acknowledgement and is immutable afterwards. All timestamps are
// unix milliseconds; zero means unset.
type Message struct {
	ID            string
	RemoteID      string
	SenderID      string
	Recipient     string
	Body          string
	Direction     string
	Status        status.Status
	ScheduledAt   int64
	RetryCount    int
	NextAttemptAt int64
	LastAttemptAt int64
	LastError     string
	ReadSynced    bool
	CreatedAt     int64
	UpdatedAt     int64
}

// Conversation is a derived projection: messages grouped by conversation
// peer. Never persisted; recomputed on read.
type Conversation struct {
	Peer          string
	MessageCount  int
	LastMessageAt int64
	LastBody      string
}

// Settings is the small persisted per-profile settings record. Single row,
// created on first read with defaults, replaced atomically on save.
type Settings struct {
	AutoSync         bool
	Notifications    bool
	MaxRetryAttempts int
	UpdatedAt        int64
}
