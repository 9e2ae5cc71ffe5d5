// Package daemon composes the courier components into a running process.
package daemon

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rfaguiar/courier/internal/bus"
	"github.com/rfaguiar/courier/internal/config"
	"github.com/rfaguiar/courier/internal/lock"
	"github.com/rfaguiar/courier/internal/logging"
	"github.com/rfaguiar/courier/internal/netmon"
	"github.com/rfaguiar/courier/internal/profile"
	"github.com/rfaguiar/courier/internal/remote"
	"github.com/rfaguiar/courier/internal/scheduler"
	"github.com/rfaguiar/courier/internal/stats"
	"github.com/rfaguiar/courier/internal/store"
	intsync "github.com/rfaguiar/courier/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	ConfigPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideClock,
			provideConfig,
			provideLock,
			provideStore,
			provideMonitor,
			provideRemote,
			provideScheduler,
			provideSyncEngine,
			provideAggregator,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideClock() clock.Clock {
	return clock.New()
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = profile.ConfigPath()
	}
	return config.LoadOrDefault(path)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, b *bus.Bus, clk clock.Clock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := store.Open(dbPath, b, clk)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideMonitor(cfg *config.Config, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *netmon.Monitor {
	probe := &netmon.DialProbe{Addr: cfg.Sync.ProbeAddr}
	return netmon.New(probe, b, logger, netmon.Options{Clock: clk})
}

func provideRemote(cfg *config.Config) remote.Service {
	return remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Token,
		time.Duration(cfg.Remote.TimeoutSeconds)*time.Second)
}

func provideScheduler(cfg *config.Config, db *store.DB, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *scheduler.Scheduler {
	return scheduler.New(db, b, logger, scheduler.Options{
		Interval: time.Duration(cfg.Sync.SchedulerIntervalSeconds) * time.Second,
		Clock:    clk,
	})
}

func provideSyncEngine(cfg *config.Config, db *store.DB, svc remote.Service, mon *netmon.Monitor, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, svc, mon, b, logger, intsync.Options{
		Scope:    cfg.UserID,
		UserID:   cfg.UserID,
		Interval: time.Duration(cfg.Sync.IntervalSeconds) * time.Second,
		Clock:    clk,
	})
}

func provideAggregator(db *store.DB, b *bus.Bus, clk clock.Clock) *stats.Aggregator {
	return stats.New(db, b, clk)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, mon *netmon.Monitor, sched *scheduler.Scheduler, engine *intsync.Engine, agg *stats.Aggregator, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Engine first: its recovery sweep must run before the monitor
			// can publish a reconnect that triggers a pass.
			engine.Start(context.Background())
			agg.Start(context.Background())
			mon.Start(context.Background())
			sched.Start(context.Background())
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			sched.Stop()
			mon.Stop()
			agg.Stop()
			engine.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
