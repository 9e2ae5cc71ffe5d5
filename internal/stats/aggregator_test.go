package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rfaguiar/courier/internal/bus"
	"github.com/rfaguiar/courier/internal/status"
	"github.com/rfaguiar/courier/internal/store"
)

func testFixture(t *testing.T) (*store.DB, *bus.Bus, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	b := bus.New()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"), b, clk)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, b, clk
}

func appendOut(t *testing.T, db *store.DB, body string) *store.Message {
	t.Helper()
	m := &store.Message{SenderID: "me", Recipient: "alice", Body: body}
	if err := db.Append(m); err != nil {
		t.Fatal(err)
	}
	return m
}

func appendIn(t *testing.T, db *store.DB, remoteID, body string) {
	t.Helper()
	m := &store.Message{RemoteID: remoteID, SenderID: "alice", Recipient: "me", Body: body}
	if _, err := db.AppendInbound(m); err != nil {
		t.Fatal(err)
	}
}

func TestSnapshotCounts(t *testing.T) {
	db, _, clk := testFixture(t)
	a := New(db, nil, clk)

	m1 := appendOut(t, db, "one")
	appendOut(t, db, "two")
	appendIn(t, db, "r-1", "reply")

	// One outbound makes it all the way to sent.
	if _, err := db.ClaimSending(m1.ID); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateStatus(m1.ID, status.Sent, store.Fields{RemoteID: "r-out"}); err != nil {
		t.Fatal(err)
	}

	snap, err := a.Snapshot("me")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Total != 3 || snap.Outbound != 2 || snap.Inbound != 1 {
		t.Errorf("counts = %+v", snap)
	}
	if snap.Pending != 1 {
		t.Errorf("pending = %d, want 1 (sent message no longer pending)", snap.Pending)
	}
}

func TestStreakConsecutiveDays(t *testing.T) {
	db, _, clk := testFixture(t)
	a := New(db, nil, clk)

	// Activity on each of the three days ending today.
	appendOut(t, db, "day one")
	clk.Add(24 * time.Hour)
	appendIn(t, db, "r-1", "day two")
	clk.Add(24 * time.Hour)
	appendOut(t, db, "day three")

	snap, err := a.Snapshot("me")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Streak != 3 {
		t.Errorf("streak = %d, want 3", snap.Streak)
	}
}

func TestStreakToleratesQuietToday(t *testing.T) {
	db, _, clk := testFixture(t)
	a := New(db, nil, clk)

	appendOut(t, db, "yesterday 1")
	clk.Add(24 * time.Hour)
	appendOut(t, db, "yesterday 2")

	// A new day dawns with no activity yet; the streak holds.
	clk.Add(24 * time.Hour)
	snap, err := a.Snapshot("me")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Streak != 2 {
		t.Errorf("streak = %d, want 2 (ends yesterday)", snap.Streak)
	}
}

func TestStreakBrokenByGap(t *testing.T) {
	db, _, clk := testFixture(t)
	a := New(db, nil, clk)

	appendOut(t, db, "long ago")
	clk.Add(72 * time.Hour)
	snap, err := a.Snapshot("me")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Streak != 0 {
		t.Errorf("streak = %d, want 0 after a gap", snap.Streak)
	}
}

func TestStreakLength(t *testing.T) {
	days := func(ds ...int64) map[int64]bool {
		m := make(map[int64]bool)
		for _, d := range ds {
			m[d] = true
		}
		return m
	}
	cases := []struct {
		name   string
		active map[int64]bool
		today  int64
		want   int
	}{
		{"empty", days(), 100, 0},
		{"today only", days(100), 100, 1},
		{"yesterday only", days(99), 100, 1},
		{"run ending today", days(97, 98, 99, 100), 100, 4},
		{"run ending yesterday", days(97, 98, 99), 100, 3},
		{"gap before today", days(97, 100), 100, 1},
		{"two days ago does not count", days(98), 100, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := streakLength(tc.active, tc.today); got != tc.want {
				t.Errorf("streakLength = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestSnapshotCachedUntilInvalidated(t *testing.T) {
	db, _, clk := testFixture(t)
	a := New(db, nil, clk)

	appendOut(t, db, "one")
	snap, err := a.Snapshot("me")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Total != 1 {
		t.Fatalf("total = %d", snap.Total)
	}

	// Without invalidation the cached snapshot is served.
	appendOut(t, db, "two")
	snap, _ = a.Snapshot("me")
	if snap.Total != 1 {
		t.Errorf("total = %d, want stale 1 before invalidation", snap.Total)
	}

	a.Invalidate()
	snap, _ = a.Snapshot("me")
	if snap.Total != 2 {
		t.Errorf("total = %d, want 2 after invalidation", snap.Total)
	}
}

func TestSnapshotRefreshedOnDayBoundary(t *testing.T) {
	db, _, clk := testFixture(t)
	a := New(db, nil, clk)

	appendOut(t, db, "today")
	snap, err := a.Snapshot("me")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Streak != 1 {
		t.Fatalf("streak = %d", snap.Streak)
	}

	// Crossing two midnights without activity drops the streak even though
	// no store mutation invalidated the cache.
	clk.Add(48 * time.Hour)
	snap, _ = a.Snapshot("me")
	if snap.Streak != 0 {
		t.Errorf("streak = %d, want 0 after day crossing", snap.Streak)
	}
}

func TestBusEventsInvalidateCache(t *testing.T) {
	db, b, clk := testFixture(t)
	a := New(db, b, clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	defer a.Stop()

	appendOut(t, db, "one")
	snap, err := a.Snapshot("me")
	if err != nil {
		t.Fatal(err)
	}
	first := snap.Total

	// Appending publishes a store event, which drops the cache.
	appendOut(t, db, "two")
	deadline := time.After(2 * time.Second)
	for {
		snap, err = a.Snapshot("me")
		if err != nil {
			t.Fatal(err)
		}
		if snap.Total == first+1 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("total = %d, cache never invalidated", snap.Total)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
