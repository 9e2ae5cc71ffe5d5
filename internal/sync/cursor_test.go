package sync

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rfaguiar/courier/internal/store"
)

func testCursor(t *testing.T) (*Cursor, *store.DB) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil, clk)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewCursor(db), db
}

func TestCursorRoundTrip(t *testing.T) {
	c, _ := testCursor(t)

	got, err := c.Get("me")
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("fresh cursor = %q, want empty", got)
	}

	if err := c.Set("me", "42"); err != nil {
		t.Fatal(err)
	}
	if err := c.Set("me", "43"); err != nil {
		t.Fatal(err)
	}
	got, err = c.Get("me")
	if err != nil {
		t.Fatal(err)
	}
	if got != "43" {
		t.Errorf("cursor = %q, want 43", got)
	}
}

func TestCursorScopesIndependent(t *testing.T) {
	c, _ := testCursor(t)

	if err := c.Set("alice", "7"); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get("bob")
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("bob's cursor = %q, want empty", got)
	}
}

func TestCursorErrorsWrapStorageError(t *testing.T) {
	c, db := testCursor(t)
	_ = db.Close()

	var serr *store.StorageError
	if _, err := c.Get("me"); !errors.As(err, &serr) {
		t.Errorf("Get() on closed db = %v, want *store.StorageError", err)
	}
	if err := c.Set("me", "1"); !errors.As(err, &serr) {
		t.Errorf("Set() on closed db = %v, want *store.StorageError", err)
	}
}
