package store

import (
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/rfaguiar/courier/internal/bus"
	"github.com/rfaguiar/courier/internal/status"
)

const messageColumns = `id, remote_id, sender_id, recipient, body, direction, status,
	scheduled_at, retry_count, next_attempt_at, last_attempt_at, last_error,
	read_synced, created_at, updated_at`

// Append inserts a new outgoing message. The status is derived from the
// scheduled time: a future scheduled_at yields queued, otherwise pending.
// An id is assigned if the caller did not provide one.
func (db *DB) Append(m *Message) error {
	if strings.TrimSpace(m.Body) == "" {
		return &ValidationError{Field: "body", Reason: "must not be empty"}
	}
	if strings.TrimSpace(m.Recipient) == "" {
		return &ValidationError{Field: "recipient", Reason: "must be set"}
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Direction == "" {
		m.Direction = DirectionOut
	}

	now := db.now()
	if m.ScheduledAt > now {
		m.Status = status.Queued
	} else {
		m.Status = status.Pending
	}
	m.CreatedAt = now
	m.UpdatedAt = now

	_, err := db.Exec(`
		INSERT INTO messages (id, remote_id, sender_id, recipient, body, direction, status,
			scheduled_at, retry_count, next_attempt_at, last_attempt_at, last_error,
			read_synced, created_at, updated_at)
		VALUES (?, '', ?, ?, ?, ?, ?, ?, 0, 0, 0, '', 0, ?, ?)`,
		m.ID, m.SenderID, m.Recipient, m.Body, m.Direction, string(m.Status),
		m.ScheduledAt, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return storageErr("append message", err)
	}

	db.publish(bus.KindMessageAppended, bus.MessageChange{
		ID:        m.ID,
		Recipient: m.Recipient,
		Status:    string(m.Status),
	})
	return nil
}

// AppendInbound records a message pulled from the remote. Idempotent on
// remote id: re-applying the same pull batch inserts nothing. Inbound
// messages enter as delivered (they reached this device).
func (db *DB) AppendInbound(m *Message) (bool, error) {
	if m.RemoteID == "" {
		return false, &ValidationError{Field: "remote_id", Reason: "must be set on inbound messages"}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	now := db.now()
	created := m.CreatedAt
	if created == 0 {
		created = now
	}
	res, err := db.Exec(`
		INSERT INTO messages (id, remote_id, sender_id, recipient, body, direction, status,
			scheduled_at, retry_count, next_attempt_at, last_attempt_at, last_error,
			read_synced, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, 0, 0, '', 0, ?, ?)
		ON CONFLICT (remote_id) WHERE remote_id <> '' DO NOTHING`,
		m.ID, m.RemoteID, m.SenderID, m.Recipient, m.Body, DirectionIn,
		string(status.Delivered), created, now)
	if err != nil {
		return false, storageErr("append inbound", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("append inbound", err)
	}
	if n == 0 {
		return false, nil
	}

	m.Direction = DirectionIn
	m.Status = status.Delivered
	db.publish(bus.KindMessageAppended, bus.MessageChange{
		ID:        m.ID,
		Recipient: m.Recipient,
		Status:    string(status.Delivered),
	})
	return true, nil
}

// Fields carries the optional per-mutation message fields accepted by
// UpdateStatus. Nil pointers leave the column untouched. RemoteID is only
// ever written while the stored value is still empty.
type Fields struct {
	RemoteID      string
	RetryCount    *int
	NextAttemptAt *int64
	LastAttemptAt *int64
	LastError     *string
	ReadSynced    *bool
}

// UpdateStatus is an atomic compare-and-set on a message's delivery status.
// It fails with NotFoundError for an unknown id and with
// InvalidTransitionError (as a no-op) when the transition table forbids the
// change.
func (db *DB) UpdateStatus(id string, to status.Status, f Fields) error {
	if !status.Valid(to) {
		return &InvalidTransitionError{ID: id, To: to}
	}

	tx, err := db.Begin()
	if err != nil {
		return storageErr("update status", err)
	}
	defer func() { _ = tx.Rollback() }()

	var curStr, remoteID, recipient string
	err = tx.QueryRow(`SELECT status, remote_id, recipient FROM messages WHERE id = ?`, id).
		Scan(&curStr, &remoteID, &recipient)
	if err == sql.ErrNoRows {
		return &NotFoundError{ID: id}
	}
	if err != nil {
		return storageErr("update status", err)
	}

	cur := status.Status(curStr)
	if !status.CanTransition(cur, to) {
		return &InvalidTransitionError{ID: id, From: cur, To: to}
	}

	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(to), db.now()}
	if f.RemoteID != "" && remoteID == "" {
		sets = append(sets, "remote_id = ?")
		args = append(args, f.RemoteID)
	}
	if f.RetryCount != nil {
		sets = append(sets, "retry_count = ?")
		args = append(args, *f.RetryCount)
	}
	if f.NextAttemptAt != nil {
		sets = append(sets, "next_attempt_at = ?")
		args = append(args, *f.NextAttemptAt)
	}
	if f.LastAttemptAt != nil {
		sets = append(sets, "last_attempt_at = ?")
		args = append(args, *f.LastAttemptAt)
	}
	if f.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *f.LastError)
	}
	if f.ReadSynced != nil {
		sets = append(sets, "read_synced = ?")
		args = append(args, *f.ReadSynced)
	}
	args = append(args, id)

	if _, err := tx.Exec(`UPDATE messages SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return storageErr("update status", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("update status", err)
	}

	db.publish(bus.KindMessageUpdated, bus.MessageChange{
		ID:        id,
		Recipient: recipient,
		Status:    string(to),
	})
	return nil
}

// ClaimSending flips a message from pending to sending iff it is still
// pending. The sending status acts as the per-message send lock: a false
// return means another pass already holds the message (or it moved on),
// and the caller must skip it.
func (db *DB) ClaimSending(id string) (bool, error) {
	now := db.now()
	res, err := db.Exec(`
		UPDATE messages SET status = ?, last_attempt_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(status.Sending), now, now, id, string(status.Pending))
	if err != nil {
		return false, storageErr("claim sending", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("claim sending", err)
	}
	if n == 0 {
		return false, nil
	}
	db.publish(bus.KindMessageUpdated, bus.MessageChange{ID: id, Status: string(status.Sending)})
	return true, nil
}

// Get returns a single message by id, or NotFoundError.
func (db *DB) Get(id string) (*Message, error) {
	row := db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, storageErr("get message", err)
	}
	return m, nil
}

// GetByRemoteID returns the message holding the given remote id, or nil if
// no local record references it.
func (db *DB) GetByRemoteID(remoteID string) (*Message, error) {
	row := db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE remote_id = ?`, remoteID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get by remote id", err)
	}
	return m, nil
}

// ListPending returns the messages eligible for the next send attempt:
// pending messages whose backoff gate has passed, plus queued messages whose
// scheduled time has elapsed. Ordered by scheduled time then creation time.
func (db *DB) ListPending(now int64) ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageColumns+` FROM messages
		WHERE (status = ? AND next_attempt_at <= ?)
		   OR (status = ? AND scheduled_at > 0 AND scheduled_at <= ?)
		ORDER BY scheduled_at ASC, created_at ASC`,
		string(status.Pending), now, string(status.Queued), now)
	if err != nil {
		return nil, storageErr("list pending", err)
	}
	return scanMessages(rows)
}

// DueQueued returns queued messages whose scheduled time has elapsed.
func (db *DB) DueQueued(now int64) ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageColumns+` FROM messages
		WHERE status = ? AND scheduled_at > 0 AND scheduled_at <= ?
		ORDER BY scheduled_at ASC, created_at ASC`,
		string(status.Queued), now)
	if err != nil {
		return nil, storageErr("due queued", err)
	}
	return scanMessages(rows)
}

// PendingCount returns the number of messages awaiting delivery: pending
// ones (regardless of backoff gate) plus queued ones already due.
func (db *DB) PendingCount(now int64) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE status = ? OR (status = ? AND scheduled_at > 0 AND scheduled_at <= ?)`,
		string(status.Pending), string(status.Queued), now).Scan(&n)
	if err != nil {
		return 0, storageErr("pending count", err)
	}
	return n, nil
}

// ListAll returns every message belonging to the user, oldest first.
func (db *DB) ListAll(userID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageColumns+` FROM messages
		WHERE sender_id = ? OR recipient = ?
		ORDER BY created_at ASC`, userID, userID)
	if err != nil {
		return nil, storageErr("list all", err)
	}
	return scanMessages(rows)
}

// MillisPerDay converts between unix-millisecond timestamps and whole UTC
// day indexes.
const MillisPerDay = 24 * 60 * 60 * 1000

// ActiveDays returns the distinct UTC day indexes (created_at / MillisPerDay)
// on which the user sent or received at least one message, newest first,
// capped at limit rows.
func (db *DB) ActiveDays(userID string, limit int) ([]int64, error) {
	rows, err := db.Query(`
		SELECT DISTINCT created_at / ? AS day FROM messages
		WHERE sender_id = ? OR recipient = ?
		ORDER BY day DESC
		LIMIT ?`, MillisPerDay, userID, userID, limit)
	if err != nil {
		return nil, storageErr("active days", err)
	}
	defer rows.Close()

	var days []int64
	for rows.Next() {
		var d int64
		if err := rows.Scan(&d); err != nil {
			return nil, storageErr("active days", err)
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("active days", err)
	}
	return days, nil
}

// ClearAll deletes every message belonging to the user in one statement
// (all-or-nothing). Returns the number of deleted rows.
func (db *DB) ClearAll(userID string) (int, error) {
	res, err := db.Exec(`DELETE FROM messages WHERE sender_id = ? OR recipient = ?`, userID, userID)
	if err != nil {
		return 0, storageErr("clear all", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("clear all", err)
	}
	db.publish(bus.KindStoreCleared, bus.MessageChange{Recipient: userID})
	return int(n), nil
}

// Delete removes a single message by explicit user action.
func (db *DB) Delete(id string) error {
	res, err := db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return storageErr("delete message", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("delete message", err)
	}
	if n == 0 {
		return &NotFoundError{ID: id}
	}
	db.publish(bus.KindMessageDeleted, bus.MessageChange{ID: id})
	return nil
}

// Retry re-enters a failed message into the queue by explicit user action,
// resetting the retry counter and backoff gate.
func (db *DB) Retry(id string) error {
	zero := 0
	var gate int64
	empty := ""
	return db.UpdateStatus(id, status.Pending, Fields{
		RetryCount:    &zero,
		NextAttemptAt: &gate,
		LastError:     &empty,
	})
}

// MarkRead records that the local user read an inbound message
// (delivered -> read). The read receipt is pushed upstream on the next
// sync pass.
func (db *DB) MarkRead(id string) error {
	return db.UpdateStatus(id, status.Read, Fields{})
}

// RecoverSending re-queues messages stuck in sending from a previous,
// abnormally terminated pass. Run once on engine start.
func (db *DB) RecoverSending() (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, storageErr("recover sending", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.Query(`SELECT id, recipient FROM messages WHERE status = ?`, string(status.Sending))
	if err != nil {
		return 0, storageErr("recover sending", err)
	}
	type stuck struct{ id, recipient string }
	var found []stuck
	for rows.Next() {
		var s stuck
		if err := rows.Scan(&s.id, &s.recipient); err != nil {
			_ = rows.Close()
			return 0, storageErr("recover sending", err)
		}
		found = append(found, s)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, storageErr("recover sending", err)
	}
	_ = rows.Close()

	if len(found) == 0 {
		return 0, tx.Commit()
	}

	if _, err := tx.Exec(`UPDATE messages SET status = ?, updated_at = ? WHERE status = ?`,
		string(status.Pending), db.now(), string(status.Sending)); err != nil {
		return 0, storageErr("recover sending", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, storageErr("recover sending", err)
	}

	for _, s := range found {
		db.publish(bus.KindMessageUpdated, bus.MessageChange{
			ID:        s.id,
			Recipient: s.recipient,
			Status:    string(status.Pending),
		})
	}
	return len(found), nil
}

// ApplyReceipt applies a remote delivery/read receipt to the local record
// identified by remote id, stepping through the transition table
// (sent -> delivered -> read). Unknown remote ids and receipts that are
// already reflected locally are ignored. Returns whether anything changed.
func (db *DB) ApplyReceipt(remoteID string, to status.Status) (bool, error) {
	if to != status.Delivered && to != status.Read {
		return false, &InvalidTransitionError{To: to}
	}
	m, err := db.GetByRemoteID(remoteID)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, nil
	}

	applied := false
	if m.Status == status.Sent {
		if err := db.UpdateStatus(m.ID, status.Delivered, Fields{}); err != nil {
			return applied, err
		}
		m.Status = status.Delivered
		applied = true
	}
	if to == status.Read && m.Status == status.Delivered {
		if err := db.UpdateStatus(m.ID, status.Read, Fields{}); err != nil {
			return applied, err
		}
		applied = true
	}
	return applied, nil
}

// UnsyncedRead returns inbound messages read locally whose read receipt has
// not yet been pushed upstream.
func (db *DB) UnsyncedRead() ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageColumns+` FROM messages
		WHERE direction = ? AND status = ? AND read_synced = 0 AND remote_id <> ''
		ORDER BY created_at ASC`, DirectionIn, string(status.Read))
	if err != nil {
		return nil, storageErr("unsynced read", err)
	}
	return scanMessages(rows)
}

// MarkReadSynced flags inbound messages whose read receipts were accepted
// by the remote.
func (db *DB) MarkReadSynced(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, 0, len(ids)+1)
	args = append(args, db.now())
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := db.Exec(`UPDATE messages SET read_synced = 1, updated_at = ? WHERE id IN (`+placeholders+`)`, args...)
	return storageErr("mark read synced", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var st string
	err := row.Scan(&m.ID, &m.RemoteID, &m.SenderID, &m.Recipient, &m.Body, &m.Direction,
		&st, &m.ScheduledAt, &m.RetryCount, &m.NextAttemptAt, &m.LastAttemptAt,
		&m.LastError, &m.ReadSynced, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Status = status.Status(st)
	return &m, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer func() { _ = rows.Close() }()
	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, storageErr("scan message", err)
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("scan messages", err)
	}
	return msgs, nil
}
