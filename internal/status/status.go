// Package status defines the delivery lifecycle of a message and the set of
// legal transitions between its states. The store consults this table on every
// status mutation, so an illegal transition can never be persisted.
package status

import "slices"

// Status is a message delivery state.
type Status string

const (
	// Queued holds a future scheduled dispatch time, not yet eligible to send.
	Queued Status = "queued"
	// Pending is due and awaiting the next send attempt.
	Pending Status = "pending"
	// Sending is in flight. It doubles as a per-message lock: a concurrent
	// sync pass skips any message already marked sending.
	Sending Status = "sending"
	// Sent was acknowledged by the remote message service.
	Sent Status = "sent"
	// Delivered reached the recipient's device.
	Delivered Status = "delivered"
	// Read was seen by the recipient.
	Read Status = "read"
	// Failed exhausted its retries. Only an explicit user retry re-enters
	// the queue from here.
	Failed Status = "failed"
)

// validTransitions defines allowed delivery state transitions.
// Sending -> Pending covers both a retryable send failure and a pass
// cancelled (or crashed) mid-flight.
var validTransitions = map[Status][]Status{
	Queued:    {Pending},
	Pending:   {Sending},
	Sending:   {Sent, Pending, Failed},
	Sent:      {Delivered},
	Delivered: {Read},
	Read:      {},
	Failed:    {Pending},
}

// All returns every defined status, in lifecycle order.
func All() []Status {
	return []Status{Queued, Pending, Sending, Sent, Delivered, Read, Failed}
}

// Valid reports whether s is a defined status.
func Valid(s Status) bool {
	_, ok := validTransitions[s]
	return ok
}

// CanTransition reports whether from -> to is a legal delivery transition.
func CanTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}
