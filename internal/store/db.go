package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rfaguiar/courier/internal/bus"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the Local Message Store: a SQLite-backed, crash-consistent store for
// message records and settings. It is the single source of truth while
// offline; every mutation publishes a change notification on the bus.
type DB struct {
	*sql.DB
	bus   *bus.Bus
	clock clock.Clock
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
// The bus may be nil (no notifications); a nil clock defaults to wall time.
func Open(path string, b *bus.Bus, clk clock.Clock) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &DB{DB: db, bus: b, clock: clk}, nil
}

// Now returns the store clock's current unix milliseconds.
func (db *DB) Now() int64 {
	return db.clock.Now().UnixMilli()
}

func (db *DB) now() int64 {
	return db.Now()
}

// publish emits a change notification. At-least-once: subscribers must
// tolerate redundant notifications.
func (db *DB) publish(kind string, payload any) {
	if db.bus == nil {
		return
	}
	db.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
