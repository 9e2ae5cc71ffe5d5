package sync

import (
	"database/sql"

	"github.com/rfaguiar/courier/internal/store"
)

// Cursor persists the pull watermark per scope in the sync_state table.
// Single-writer: only the engine mutates it, and only after a pull batch
// has been fully applied.
type Cursor struct {
	db *store.DB
}

// NewCursor creates a cursor over the store.
func NewCursor(db *store.DB) *Cursor {
	return &Cursor{db: db}
}

// Get returns the persisted cursor for a scope, or "" if none exists yet.
func (c *Cursor) Get(scope string) (string, error) {
	var value string
	err := c.db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, cursorKey(scope)).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", &store.StorageError{Op: "read cursor", Err: err}
	}
	return value, nil
}

// Set replaces the persisted cursor for a scope.
func (c *Cursor) Set(scope, value string) error {
	_, err := c.db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		cursorKey(scope), value, c.db.Now())
	if err != nil {
		return &store.StorageError{Op: "write cursor", Err: err}
	}
	return nil
}

func cursorKey(scope string) string {
	return "cursor:" + scope
}
