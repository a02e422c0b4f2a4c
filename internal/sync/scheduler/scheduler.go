// Package scheduler drives periodic sync passes and reacts to
// connectivity changes.
package scheduler

import (
	"context"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jtarver/budgeteer/internal/errors"
	"github.com/jtarver/budgeteer/internal/netmon"
	syncmgr "github.com/jtarver/budgeteer/internal/sync"
)

// DefaultInterval between automatic sync passes.
const DefaultInterval = 5 * time.Minute

// Syncer runs one sync pass.
type Syncer interface {
	Sync(ctx context.Context) (*syncmgr.Result, error)
}

// Scheduler triggers the syncer on a fixed interval and whenever
// connectivity comes back.
type Scheduler struct {
	syncer   Syncer
	events   <-chan netmon.Event
	interval time.Duration
	logger   zerolog.Logger

	mu        gosync.Mutex
	isRunning bool
	stopCh    chan struct{}
	wg        gosync.WaitGroup
}

// New creates a Scheduler. events may be nil when no network monitor is
// wired; interval <= 0 uses DefaultInterval.
func New(syncer Syncer, events <-chan netmon.Event, interval time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		syncer:   syncer,
		events:   events,
		interval: interval,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the trigger loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")
}

// Stop halts the loop and waits for any in-flight trigger to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.trigger(ctx, "interval")
		case ev, ok := <-s.events:
			if !ok {
				s.events = nil
				continue
			}
			if ev.Online {
				s.trigger(ctx, "reconnect")
			}
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context, reason string) {
	result, err := s.syncer.Sync(ctx)
	if err != nil {
		// A pass already in flight covers this trigger.
		if errors.Is(err, errors.ErrSyncBusy) {
			s.logger.Debug().Str("reason", reason).Msg("sync already running, trigger skipped")
			return
		}
		s.logger.Warn().Err(err).Str("reason", reason).Msg("sync pass failed")
		return
	}
	s.logger.Debug().
		Str("reason", reason).
		Int("uploaded", result.Uploaded).
		Int("downloaded", result.Downloaded).
		Msg("sync pass triggered")
}
