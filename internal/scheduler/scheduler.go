// Package scheduler releases time-delayed messages: on each activation it
// flips queued messages whose scheduled time has elapsed to pending. It
// decides when to send and never performs delivery itself.
package scheduler

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rfaguiar/courier/internal/bus"
	"github.com/rfaguiar/courier/internal/status"
	"github.com/rfaguiar/courier/internal/store"
	"go.uber.org/zap"
)

// DefaultInterval is the coarse tick granularity. This is not a real-time
// scheduler; sub-second precision is not a goal.
const DefaultInterval = 30 * time.Second

// Options tunes the scheduler. Zero values fall back to defaults.
type Options struct {
	Interval time.Duration
	Clock    clock.Clock
}

// Scheduler periodically scans the store for due queued messages.
type Scheduler struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	clk    clock.Clock

	interval time.Duration
	cancel   context.CancelFunc
}

// New creates a scheduler over the store. The bus may be nil.
func New(db *store.DB, b *bus.Bus, logger *zap.Logger, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Scheduler{
		db:       db,
		bus:      b,
		logger:   logger,
		clk:      opts.Clock,
		interval: opts.Interval,
	}
}

// Start begins ticking. Each tick runs one release scan.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		ticker := s.clk.Ticker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.Trigger(); err != nil && s.logger != nil {
					s.logger.Error("scheduler tick failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops ticking.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Trigger runs one release scan immediately (app foreground, manual action)
// and returns the number of messages released to pending.
func (s *Scheduler) Trigger() (int, error) {
	now := s.clk.Now().UnixMilli()
	due, err := s.db.DueQueued(now)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, m := range due {
		if err := s.db.UpdateStatus(m.ID, status.Pending, store.Fields{}); err != nil {
			// Another activation may have released it already; skip and
			// keep scanning.
			if s.logger != nil {
				s.logger.Warn("release failed", zap.String("id", m.ID), zap.Error(err))
			}
			continue
		}
		released++
	}

	if released > 0 {
		if s.logger != nil {
			s.logger.Info("released scheduled messages", zap.Int("count", released))
		}
		if s.bus != nil {
			s.bus.Publish(bus.Event{
				Kind:      bus.KindSchedulerReleased,
				Timestamp: time.Now(),
				Payload:   bus.Released{Count: released},
			})
		}
	}
	return released, nil
}
