package store

import "github.com/rfaguiar/courier/internal/bus"

// DefaultMaxRetryAttempts bounds the automatic retry policy when settings
// have never been saved.
const DefaultMaxRetryAttempts = 5

// Settings returns the persisted settings row, creating it with defaults on
// first run (auto-sync on, notifications on, five retry attempts).
func (db *DB) Settings() (*Settings, error) {
	if _, err := db.Exec(`
		INSERT OR IGNORE INTO settings (id, auto_sync, notifications, max_retry_attempts, updated_at)
		VALUES (1, 1, 1, ?, ?)`, DefaultMaxRetryAttempts, db.now()); err != nil {
		return nil, storageErr("init settings", err)
	}

	var s Settings
	err := db.QueryRow(`
		SELECT auto_sync, notifications, max_retry_attempts, updated_at
		FROM settings WHERE id = 1`).
		Scan(&s.AutoSync, &s.Notifications, &s.MaxRetryAttempts, &s.UpdatedAt)
	if err != nil {
		return nil, storageErr("read settings", err)
	}
	return &s, nil
}

// SaveSettings replaces the settings row atomically (read-modify-write).
// A non-positive retry bound would disable exhaustion and keep failing
// messages cycling forever, so it is rejected.
func (db *DB) SaveSettings(s *Settings) error {
	if s.MaxRetryAttempts <= 0 {
		return &ValidationError{Field: "max_retry_attempts", Reason: "must be positive"}
	}
	s.UpdatedAt = db.now()
	_, err := db.Exec(`
		INSERT INTO settings (id, auto_sync, notifications, max_retry_attempts, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			auto_sync = excluded.auto_sync,
			notifications = excluded.notifications,
			max_retry_attempts = excluded.max_retry_attempts,
			updated_at = excluded.updated_at`,
		s.AutoSync, s.Notifications, s.MaxRetryAttempts, s.UpdatedAt)
	if err != nil {
		return storageErr("save settings", err)
	}
	db.publish(bus.KindSettingsUpdated, *s)
	return nil
}
