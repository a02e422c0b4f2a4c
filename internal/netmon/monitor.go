// Package netmon tracks reachability of the remote service and notifies
// subscribers on transitions.
package netmon

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultInterval is how often the probe runs.
const DefaultInterval = 30 * time.Second

// ProbeFunc reports whether the remote service is reachable. A nil error
// means online.
type ProbeFunc func(ctx context.Context) error

// Event is delivered to subscribers on every online/offline transition.
type Event struct {
	Online bool
	At     time.Time
}

// Monitor polls a probe and fans out transition events. Steady-state
// checks produce no events.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	online bool
	subs   []chan Event

	stopCh    chan struct{}
	wg        sync.WaitGroup
	isRunning bool
}

// New creates a Monitor. The monitor starts out assuming the service is
// online; the first failed probe flips it. interval <= 0 uses
// DefaultInterval.
func New(probe ProbeFunc, interval time.Duration, logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		logger:   logger.With().Str("component", "netmon").Logger(),
		online:   true,
		stopCh:   make(chan struct{}),
	}
}

// Online reports the last observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe returns a channel receiving transition events. Slow
// subscribers lose events rather than stalling the monitor.
func (m *Monitor) Subscribe() <-chan Event {
	ch := make(chan Event, 4)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// SetOnline forces the state, emitting a transition event if it changed.
// Used by hosts that learn about connectivity out of band.
func (m *Monitor) SetOnline(online bool) {
	m.transition(online)
}

// Start launches the probe loop.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(ctx)
	m.logger.Info().Dur("interval", m.interval).Msg("network monitor started")
}

// Stop halts the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info().Msg("network monitor stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.check(ctx)
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()
	m.transition(m.probe(probeCtx) == nil)
}

func (m *Monitor) transition(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]chan Event, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	ev := Event{Online: online, At: time.Now()}
	if online {
		m.logger.Info().Msg("connectivity restored")
	} else {
		m.logger.Warn().Msg("connectivity lost")
	}

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
