package bus

import "time"

// Event kinds published by the core. Subscribers filter by namespace prefix
// ("store.", "net.", "sync.", ...).
const (
	KindMessageAppended = "store.message_appended"
	KindMessageUpdated  = "store.message_updated"
	KindMessageDeleted  = "store.message_deleted"
	KindStoreCleared    = "store.cleared"
	KindSettingsUpdated = "store.settings_updated"

	KindNetOnline  = "net.online"
	KindNetOffline = "net.offline"

	KindSchedulerReleased = "scheduler.released"

	KindSyncStarted   = "sync.started"
	KindSyncCompleted = "sync.completed"
	KindSyncFailed    = "sync.failed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// MessageChange is the payload for store.message_* events. Delivery is
// at-least-once; subscribers re-read the store rather than trusting the
// payload as the full record.
type MessageChange struct {
	ID        string
	Recipient string
	Status    string
}

// NetChange is the payload for net.online / net.offline events.
type NetChange struct {
	Online   bool
	ConnType string
}

// Released is the payload for scheduler.released events.
type Released struct {
	Count int
}

// SyncResult is the payload for sync.completed events.
type SyncResult struct {
	Pulled  int
	Pushed  int
	Failed  int
	Pending int
}
