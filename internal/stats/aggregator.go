// Package stats derives read-only summaries from the message store:
// pending and total counts, inbound/outbound split, and the active-day
// streak shown on the profile screen. It never writes back to the store.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rfaguiar/courier/internal/bus"
	"github.com/rfaguiar/courier/internal/status"
	"github.com/rfaguiar/courier/internal/store"
)

// Snapshot is one point-in-time view of a user's message activity.
type Snapshot struct {
	// Pending counts messages still on their way out: queued, pending
	// and in-flight sends.
	Pending  int
	Total    int
	Inbound  int
	Outbound int
	// Streak is the number of consecutive calendar days, ending today or
	// yesterday, with at least one message sent or received.
	Streak int

	ComputedAt time.Time
}

type cacheEntry struct {
	snap Snapshot
	day  int64
}

// Aggregator computes snapshots on demand and caches them until a store
// mutation or a day boundary invalidates the cache.
type Aggregator struct {
	db  *store.DB
	bus *bus.Bus
	clk clock.Clock

	mu     sync.Mutex
	cache  map[string]cacheEntry
	cancel context.CancelFunc
}

// New creates an aggregator. The bus may be nil; without it the cache is
// only refreshed on day boundaries and explicit Invalidate calls.
func New(db *store.DB, b *bus.Bus, clk clock.Clock) *Aggregator {
	if clk == nil {
		clk = clock.New()
	}
	return &Aggregator{
		db:    db,
		bus:   b,
		clk:   clk,
		cache: make(map[string]cacheEntry),
	}
}

// Start subscribes to store change notifications so cached snapshots are
// dropped whenever the underlying data changes. Notifications are
// at-least-once; a redundant invalidation only costs one recompute.
func (a *Aggregator) Start(ctx context.Context) {
	if a.bus == nil {
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	ch, unsub := a.bus.Subscribe("store.", 32)
	go func() {
		defer unsub()
		for {
			select {
			case <-ch:
				a.Invalidate()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (a *Aggregator) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}

// Invalidate drops all cached snapshots.
func (a *Aggregator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.cache)
}

// Snapshot returns the current summary for userID, recomputing at most
// once per qualifying change or day crossing.
func (a *Aggregator) Snapshot(userID string) (*Snapshot, error) {
	now := a.clk.Now()
	today := dayIndex(now)

	a.mu.Lock()
	if c, ok := a.cache[userID]; ok && c.day == today {
		a.mu.Unlock()
		snap := c.snap
		return &snap, nil
	}
	a.mu.Unlock()

	snap, err := a.compute(userID, now)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.cache[userID] = cacheEntry{snap: *snap, day: today}
	a.mu.Unlock()
	return snap, nil
}

// streakWindowDays caps how far back the streak scan reaches.
const streakWindowDays = 366

func (a *Aggregator) compute(userID string, now time.Time) (*Snapshot, error) {
	msgs, err := a.db.ListAll(userID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{ComputedAt: now}
	for _, m := range msgs {
		snap.Total++
		if m.Direction == store.DirectionIn {
			snap.Inbound++
		} else {
			snap.Outbound++
		}
		switch m.Status {
		case status.Queued, status.Pending, status.Sending:
			snap.Pending++
		}
	}

	days, err := a.db.ActiveDays(userID, streakWindowDays)
	if err != nil {
		return nil, err
	}
	active := make(map[int64]bool, len(days))
	for _, d := range days {
		active[d] = true
	}
	snap.Streak = streakLength(active, dayIndex(now))
	return snap, nil
}

// dayIndex maps an instant to its UTC day, the same bucketing ActiveDays
// applies to created_at.
func dayIndex(t time.Time) int64 {
	return t.UnixMilli() / store.MillisPerDay
}

// streakLength counts consecutive active days ending today, or yesterday
// when today has no activity yet.
func streakLength(active map[int64]bool, today int64) int {
	day := today
	if !active[day] {
		day--
		if !active[day] {
			return 0
		}
	}
	n := 0
	for active[day] {
		n++
		day--
	}
	return n
}
