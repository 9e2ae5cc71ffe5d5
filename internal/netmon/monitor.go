// Package netmon maintains a debounced view of network reachability and
// publishes transition events when the platform signal settles.
package netmon

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rfaguiar/courier/internal/bus"
	"go.uber.org/zap"
)

// Connection type labels reported by probes.
const (
	ConnUnknown = "unknown"
	ConnNone    = "none"
	ConnIP      = "ip"
)

// Probe samples the platform connectivity signal. A probe error means the
// signal itself is unavailable; the monitor then assumes online rather than
// starving sends.
type Probe interface {
	Check(ctx context.Context) (online bool, connType string, err error)
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context) (bool, string, error)

func (f ProbeFunc) Check(ctx context.Context) (bool, string, error) {
	return f(ctx)
}

// DialProbe checks reachability by opening a TCP connection to a fixed
// address, typically the remote message service host.
type DialProbe struct {
	Addr    string
	Timeout time.Duration
}

func (p *DialProbe) Check(ctx context.Context) (bool, string, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		// Unreachable is a valid sample, not a probe failure.
		return false, ConnNone, nil
	}
	_ = conn.Close()
	return true, ConnIP, nil
}

// Options tunes the monitor. Zero values fall back to defaults.
type Options struct {
	// Interval between probe samples.
	Interval time.Duration
	// QuietWindow a raw flip must hold before the monitor commits it.
	// Flaps shorter than this emit no transition.
	QuietWindow time.Duration
	Clock       clock.Clock
}

const (
	defaultInterval    = 5 * time.Second
	defaultQuietWindow = 2 * time.Second
)

// Monitor tracks a single current online/offline state and emits exactly one
// event per debounced transition.
type Monitor struct {
	probe  Probe
	bus    *bus.Bus
	logger *zap.Logger
	clk    clock.Clock

	interval time.Duration
	quiet    time.Duration
	cancel   context.CancelFunc

	mu        sync.RWMutex
	online    bool
	connType  string
	sampled   bool // first sample commits without debounce
	rawOnline bool
	rawSince  time.Time
	listeners []func(online bool)
}

// New creates a monitor over the given probe. The bus may be nil.
func New(probe Probe, b *bus.Bus, logger *zap.Logger, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.QuietWindow <= 0 {
		opts.QuietWindow = defaultQuietWindow
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Monitor{
		probe:    probe,
		bus:      b,
		logger:   logger,
		clk:      opts.Clock,
		interval: opts.Interval,
		quiet:    opts.QuietWindow,
		online:   true, // optimistic until the first sample lands
		connType: ConnUnknown,
	}
}

// Start begins sampling. The first sample commits immediately (initial
// state, not a transition); later flips are debounced.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.sample(ctx)

	go func() {
		ticker := m.clk.Ticker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sample(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops sampling.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Online returns the last committed state. Never blocks on a fresh probe.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// ConnType returns the last committed connection-type label.
func (m *Monitor) ConnType() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connType
}

// OnChange registers a callback invoked once per committed transition.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// sample takes one probe reading and applies the debounce policy.
func (m *Monitor) sample(ctx context.Context) {
	online, connType, err := m.probe.Check(ctx)
	if err != nil {
		// Signal unavailable: assume online. Failed send attempts beat
		// silent starvation.
		if m.logger != nil {
			m.logger.Warn("connectivity probe error, assuming online", zap.Error(err))
		}
		online, connType = true, ConnUnknown
	}

	m.mu.Lock()
	now := m.clk.Now()

	if !m.sampled {
		m.sampled = true
		m.online = online
		m.connType = connType
		m.rawOnline = online
		m.rawSince = now
		m.mu.Unlock()
		return
	}

	if online != m.rawOnline {
		// Raw signal flipped: restart the quiet window.
		m.rawOnline = online
		m.rawSince = now
	}

	if online == m.online {
		m.connType = connType
		m.mu.Unlock()
		return
	}

	if now.Sub(m.rawSince) < m.quiet {
		// Still inside the quiet window; wait for it to settle.
		m.mu.Unlock()
		return
	}

	// Commit the transition.
	m.online = online
	m.connType = connType
	listeners := make([]func(bool), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Info("connectivity changed",
			zap.Bool("online", online),
			zap.String("conn_type", connType))
	}
	if m.bus != nil {
		kind := bus.KindNetOnline
		if !online {
			kind = bus.KindNetOffline
		}
		m.bus.Publish(bus.Event{
			Kind:      kind,
			Timestamp: time.Now(),
			Payload:   bus.NetChange{Online: online, ConnType: connType},
		})
	}
	for _, fn := range listeners {
		fn(online)
	}
}
