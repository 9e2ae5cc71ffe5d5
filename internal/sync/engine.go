// Package sync implements the engine that reconciles the Local Message
// Store against the remote Message Service: it pulls inbound messages and
// receipts, pushes due outgoing messages with bounded retry and backoff,
// and keeps per-message delivery state authoritative in the store.
package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rfaguiar/courier/internal/bus"
	"github.com/rfaguiar/courier/internal/remote"
	"github.com/rfaguiar/courier/internal/status"
	"github.com/rfaguiar/courier/internal/store"
	"go.uber.org/zap"
)

// ErrOffline is returned by SyncMessages while the connectivity monitor
// reports offline. No network call is made and no status changes.
var ErrOffline = errors.New("offline")

// ErrSyncInProgress is returned when a pass is already running.
var ErrSyncInProgress = errors.New("sync already in progress")

// SyncError wraps the underlying cause of a failed pass.
type SyncError struct {
	Cause error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync: %v", e.Cause)
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Summary reports what one full pass did.
type Summary struct {
	Pulled int
	Pushed int
	Failed int
	// Pending left in the store after the pass, for UI badges.
	Pending int
}

// Connectivity is the read surface the engine needs from the monitor.
type Connectivity interface {
	Online() bool
}

// Options tunes the engine. Zero values fall back to defaults.
type Options struct {
	// Scope identifies the pull cursor namespace, typically the user id.
	Scope string
	// UserID owns the local messages.
	UserID string
	// Interval between automatic passes while online with auto-sync on.
	Interval time.Duration
	// AttemptTimeout bounds each network round-trip.
	AttemptTimeout time.Duration
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	Clock          clock.Clock
}

const (
	defaultInterval       = time.Minute
	defaultAttemptTimeout = 10 * time.Second
)

// Engine orchestrates full sync passes. At most one pass runs at a time;
// within a pass, pulls are applied before pushes.
type Engine struct {
	db      *store.DB
	remote  remote.Service
	conn    Connectivity
	bus     *bus.Bus
	logger  *zap.Logger
	clk     clock.Clock
	cursor  *Cursor
	backoff backoffPolicy

	scope          string
	userID         string
	interval       time.Duration
	attemptTimeout time.Duration
	cancel         context.CancelFunc

	mu       stdsync.Mutex
	syncing  bool
	lastSync time.Time
}

// NewEngine creates a sync engine. The bus may be nil.
func NewEngine(db *store.DB, svc remote.Service, conn Connectivity, b *bus.Bus, logger *zap.Logger, opts Options) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = defaultAttemptTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Scope == "" {
		opts.Scope = opts.UserID
	}
	return &Engine{
		db:             db,
		remote:         svc,
		conn:           conn,
		bus:            b,
		logger:         logger,
		clk:            opts.Clock,
		cursor:         NewCursor(db),
		backoff:        newBackoffPolicy(opts.BackoffBase, opts.BackoffCap),
		scope:          opts.Scope,
		userID:         opts.UserID,
		interval:       opts.Interval,
		attemptTimeout: opts.AttemptTimeout,
	}
}

// Start recovers messages stuck in sending from a previous abnormal
// termination, then begins reacting to reconnects and the periodic tick.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	if n, err := e.db.RecoverSending(); err != nil {
		e.logf().Error("recovery sweep failed", zap.Error(err))
	} else if n > 0 {
		e.logf().Info("re-queued interrupted sends", zap.Int("count", n))
	}

	var ch <-chan bus.Event
	unsub := func() {}
	if e.bus != nil {
		ch, unsub = e.bus.Subscribe("net.", 16)
	}

	go func() {
		defer unsub()
		ticker := e.clk.Ticker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case evt := <-ch:
				if evt.Kind == bus.KindNetOnline {
					e.autoSync(ctx, "reconnect")
				}
			case <-ticker.C:
				settings, err := e.db.Settings()
				if err != nil {
					e.logf().Error("read settings", zap.Error(err))
					continue
				}
				if settings.AutoSync {
					e.autoSync(ctx, "interval")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the auto-sync loop. A pass in flight observes the
// cancellation at its next suspension point.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// InProgress reports whether a pass is currently running.
func (e *Engine) InProgress() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncing
}

// LastSyncAt returns the completion time of the last successful pass.
func (e *Engine) LastSyncAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// PendingCount returns the number of messages awaiting delivery.
func (e *Engine) PendingCount() (int, error) {
	return e.db.PendingCount(e.clk.Now().UnixMilli())
}

// SyncMessages runs one full pass immediately, regardless of the auto-sync
// setting. Used by pull-to-refresh and the "Sync Now" action.
func (e *Engine) SyncMessages(ctx context.Context) (*Summary, error) {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return nil, &SyncError{Cause: ErrSyncInProgress}
	}
	e.syncing = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	e.publish(bus.KindSyncStarted, nil)
	summary, err := e.pass(ctx)
	if err != nil {
		e.publish(bus.KindSyncFailed, nil)
		return nil, &SyncError{Cause: err}
	}

	e.mu.Lock()
	e.lastSync = e.clk.Now()
	e.mu.Unlock()

	e.publish(bus.KindSyncCompleted, bus.SyncResult{
		Pulled:  summary.Pulled,
		Pushed:  summary.Pushed,
		Failed:  summary.Failed,
		Pending: summary.Pending,
	})
	return summary, nil
}

func (e *Engine) autoSync(ctx context.Context, reason string) {
	summary, err := e.SyncMessages(ctx)
	switch {
	case errors.Is(err, ErrOffline), errors.Is(err, ErrSyncInProgress):
		// Normal; the next trigger will retry.
	case err != nil:
		e.logf().Error("auto sync failed", zap.String("reason", reason), zap.Error(err))
	default:
		e.logf().Info("auto sync completed",
			zap.String("reason", reason),
			zap.Int("pulled", summary.Pulled),
			zap.Int("pushed", summary.Pushed),
			zap.Int("failed", summary.Failed))
	}
}

// pass runs one pull-then-push cycle. Rerunning a pass with no new local or
// remote work is a no-op: no pushes, no remote calls beyond the pull probe.
func (e *Engine) pass(ctx context.Context) (*Summary, error) {
	if !e.conn.Online() {
		return nil, ErrOffline
	}

	s := &Summary{}

	// Pulls apply before pushes so a just-received inbound batch can never
	// be shadowed by a stale cursor write from the push side.
	pulled, err := e.pull(ctx)
	if err != nil {
		return nil, err
	}
	s.Pulled = pulled

	pushed, failed, err := e.push(ctx)
	if err != nil {
		return nil, err
	}
	s.Pushed, s.Failed = pushed, failed

	if err := e.pushReadReceipts(ctx); err != nil {
		var terr *remote.TransportError
		if !errors.As(err, &terr) {
			// Storage failure; the pass cannot claim success.
			return nil, err
		}
		// Transport failure: receipts stay flagged unsynced and are
		// retried next pass.
		e.logf().Warn("read receipt push failed", zap.Error(err))
	}

	pending, err := e.db.PendingCount(e.clk.Now().UnixMilli())
	if err != nil {
		return nil, err
	}
	s.Pending = pending
	return s, nil
}

// pull fetches remote events since the cursor and applies them. The cursor
// advances only after every event in the batch has been applied; crash
// recovery re-pulls and the idempotent application absorbs the replay.
func (e *Engine) pull(ctx context.Context) (int, error) {
	cursor, err := e.cursor.Get(e.scope)
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	events, next, err := e.remote.PullSince(pctx, e.scope, cursor)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("pull since %q: %w", cursor, err)
	}

	applied := 0
	for _, evt := range events {
		switch {
		case evt.Inbound != nil:
			in := evt.Inbound
			inserted, err := e.db.AppendInbound(&store.Message{
				RemoteID:  in.RemoteID,
				SenderID:  in.SenderID,
				Recipient: in.Recipient,
				Body:      in.Body,
				CreatedAt: in.SentAt,
			})
			if err != nil {
				return applied, fmt.Errorf("apply inbound %s: %w", in.RemoteID, err)
			}
			if inserted {
				applied++
			}
		case evt.Receipt != nil:
			var to status.Status
			switch evt.Receipt.Status {
			case remote.ReceiptDelivered:
				to = status.Delivered
			case remote.ReceiptRead:
				to = status.Read
			default:
				continue
			}
			ok, err := e.db.ApplyReceipt(evt.Receipt.RemoteID, to)
			if err != nil {
				return applied, fmt.Errorf("apply receipt %s: %w", evt.Receipt.RemoteID, err)
			}
			if ok {
				applied++
			}
		}
	}

	if next != cursor {
		if err := e.cursor.Set(e.scope, next); err != nil {
			return applied, fmt.Errorf("advance cursor: %w", err)
		}
	}
	return applied, nil
}

// push sends every due message, one at a time. A transport failure is
// recorded on its message and never blocks the rest of the batch; only
// cancellation and storage failures abort the pass.
func (e *Engine) push(ctx context.Context) (pushed, failed int, err error) {
	now := e.clk.Now().UnixMilli()
	due, err := e.db.ListPending(now)
	if err != nil {
		return 0, 0, err
	}
	if len(due) == 0 {
		return 0, 0, nil
	}

	settings, err := e.db.Settings()
	if err != nil {
		return 0, 0, err
	}

	for i := range due {
		m := &due[i]
		if ctx.Err() != nil {
			return pushed, failed, ctx.Err()
		}

		if m.Status == status.Queued {
			// Due but not yet released; the scheduler may race us here,
			// in which case the claim below settles it.
			_ = e.db.UpdateStatus(m.ID, status.Pending, store.Fields{})
		}

		claimed, err := e.db.ClaimSending(m.ID)
		if err != nil {
			return pushed, failed, err
		}
		if !claimed {
			// In flight on a concurrent pass, or no longer pending.
			continue
		}

		remoteID, perr := e.pushOne(ctx, m)
		if perr == nil {
			if err := e.db.UpdateStatus(m.ID, status.Sent, store.Fields{RemoteID: remoteID}); err != nil {
				return pushed, failed, err
			}
			pushed++
			continue
		}

		if ctx.Err() != nil {
			// Cancelled mid-flight: revert to pending without burning a
			// retry. The recovery sweep covers a crash at this point.
			if uerr := e.db.UpdateStatus(m.ID, status.Pending, store.Fields{}); uerr != nil {
				return pushed, failed, uerr
			}
			return pushed, failed, ctx.Err()
		}

		failed++
		if err := e.recordFailure(m, perr, settings.MaxRetryAttempts); err != nil {
			return pushed, failed, err
		}
	}
	return pushed, failed, nil
}

func (e *Engine) pushOne(ctx context.Context, m *store.Message) (string, error) {
	pctx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	defer cancel()
	return e.remote.PushMessage(pctx, remote.OutboundMessage{
		ClientID:   m.ID,
		SenderID:   m.SenderID,
		Recipient:  m.Recipient,
		Body:       m.Body,
		ComposedAt: m.CreatedAt,
	})
}

// recordFailure applies the retry policy to a failed send: either re-queue
// behind a backoff gate or, once attempts are exhausted, mark failed
// terminally so the user sees it and can retry explicitly.
func (e *Engine) recordFailure(m *store.Message, perr error, maxAttempts int) error {
	if maxAttempts <= 0 {
		// A settings row predating the save-time validation must not
		// disable exhaustion.
		maxAttempts = store.DefaultMaxRetryAttempts
	}

	retries := m.RetryCount + 1
	lastErr := perr.Error()
	lastAttempt := e.clk.Now().UnixMilli()

	if retries >= maxAttempts {
		e.logf().Warn("message failed permanently",
			zap.String("id", m.ID),
			zap.Int("attempts", retries),
			zap.String("error", lastErr))
		return e.db.UpdateStatus(m.ID, status.Failed, store.Fields{
			RetryCount:    &retries,
			LastError:     &lastErr,
			LastAttemptAt: &lastAttempt,
		})
	}

	gate := lastAttempt + e.backoff.delay(retries).Milliseconds()
	e.logf().Info("send failed, will retry",
		zap.String("id", m.ID),
		zap.Int("attempt", retries),
		zap.Int64("next_attempt_at", gate),
		zap.String("error", lastErr))
	return e.db.UpdateStatus(m.ID, status.Pending, store.Fields{
		RetryCount:    &retries,
		NextAttemptAt: &gate,
		LastError:     &lastErr,
		LastAttemptAt: &lastAttempt,
	})
}

// pushReadReceipts acknowledges locally-read inbound messages upstream.
func (e *Engine) pushReadReceipts(ctx context.Context) error {
	msgs, err := e.db.UnsyncedRead()
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	ids := make([]string, 0, len(msgs))
	remoteIDs := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
		remoteIDs = append(remoteIDs, m.RemoteID)
	}

	pctx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	defer cancel()
	if err := e.remote.MarkRead(pctx, remoteIDs); err != nil {
		return err
	}
	return e.db.MarkReadSynced(ids)
}

func (e *Engine) publish(kind string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func (e *Engine) logf() *zap.Logger {
	if e.logger == nil {
		return zap.NewNop()
	}
	return e.logger
}
