// Package sync orchestrates synchronization passes: drain the mutation
// queue, pull remote deltas, reconcile divergent records, commit.
package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jtarver/budgeteer/internal/db"
	"github.com/jtarver/budgeteer/internal/errors"
	"github.com/jtarver/budgeteer/internal/models"
	"github.com/jtarver/budgeteer/internal/registry"
	"github.com/jtarver/budgeteer/internal/remote"
	"github.com/jtarver/budgeteer/internal/store"
	"github.com/jtarver/budgeteer/internal/sync/conflict"
	"github.com/jtarver/budgeteer/internal/sync/queue"
)

// Status is the manager's state machine: idle -> syncing -> idle.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
)

// ErrSyncInProgress is returned when a pass is requested while one is in
// flight. Triggers treat it as a no-op.
var ErrSyncInProgress = errors.New(errors.ErrSyncBusy, "sync pass already in flight")

// Result summarizes one sync pass.
type Result struct {
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Uploaded   int // queue items applied remotely
	Dropped    int // queue items dropped (validation or retry exhaustion)
	Downloaded int // remote records pulled
	Conflicts  int // conflicts detected this pass
	Resolved   int // conflicts resolved this pass
	Error      string
}

// Manager runs sync passes for one authenticated user.
type Manager struct {
	store    *store.Store
	queue    *queue.Queue
	remote   remote.Service
	resolver *conflict.Resolver
	state    db.StateStore
	reg      *registry.Registry
	userID   string
	logger   zerolog.Logger

	mu       gosync.Mutex
	syncing  bool
	lastSync time.Time
	lastErr  error
}

// NewManager creates a Manager.
func NewManager(s *store.Store, q *queue.Queue, svc remote.Service, r *conflict.Resolver,
	state db.StateStore, reg *registry.Registry, userID string, logger zerolog.Logger) *Manager {
	return &Manager{
		store:    s,
		queue:    q,
		remote:   svc,
		resolver: r,
		state:    state,
		reg:      reg,
		userID:   userID,
		logger:   logger.With().Str("component", "sync").Logger(),
	}
}

// Status returns idle or syncing.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.syncing {
		return StatusSyncing
	}
	return StatusIdle
}

// LastSync returns when the last clean pass finished, zero if none has.
func (m *Manager) LastSync() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSync
}

// LastError returns the most recent pass's phase error, nil after a clean
// pass.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Pending returns the mutation queue depth.
func (m *Manager) Pending(ctx context.Context) (int, error) {
	return m.queue.Size(ctx)
}

// Sync executes one pass: upload, download, reconcile, commit. The
// single-flight guard makes a request during a running pass a no-op. A
// phase failure is recorded and the pass moves on; the system heals across
// sync cycles instead of being transactional across one pass.
func (m *Manager) Sync(ctx context.Context) (*Result, error) {
	m.mu.Lock()
	if m.syncing {
		m.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	m.syncing = true
	m.mu.Unlock()

	result := &Result{StartTime: time.Now()}
	passStart := models.NowMilli()
	var passErr error

	defer func() {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		if passErr != nil {
			result.Error = passErr.Error()
		}

		m.mu.Lock()
		m.syncing = false
		m.lastErr = passErr
		if passErr == nil {
			m.lastSync = result.EndTime
		}
		m.mu.Unlock()

		m.logger.Info().
			Int("uploaded", result.Uploaded).
			Int("dropped", result.Dropped).
			Int("downloaded", result.Downloaded).
			Int("conflicts", result.Conflicts).
			Int("resolved", result.Resolved).
			Dur("duration", result.Duration).
			Str("error", result.Error).
			Msg("sync pass finished")
	}()

	// Phase 1: upload.
	if stats, err := m.queue.Drain(ctx, m.applyQueueItem); err != nil {
		passErr = errors.Wrap(errors.ErrTransient, "upload phase failed", err)
	} else {
		result.Uploaded = stats.Applied
		result.Dropped = stats.Dropped
		if stats.Failed > 0 {
			passErr = errors.Newf(errors.ErrTransient, "%d queue items failed", stats.Failed)
		}
	}

	// Phase 2: download remote deltas per table.
	deltas := make(map[registry.Table][]*models.Record)
	clean := make(map[registry.Table]bool)
	for _, table := range m.reg.Tables() {
		since, err := m.state.LastSync(ctx, m.userID, string(table))
		if err != nil {
			passErr = err
			continue
		}
		recs, err := m.remote.SelectSince(ctx, string(table), m.userID, since)
		if err != nil {
			passErr = errors.Wrap(errors.ErrTransient, "download phase failed for "+string(table), err)
			continue
		}
		deltas[table] = recs
		clean[table] = true
		result.Downloaded += len(recs)
	}

	// Phase 3: reconcile. Local candidates are the unconfirmed or
	// tombstoned records plus anything the delta touched; already-synced
	// records outside the delta cannot have diverged.
	for table, recs := range deltas {
		locals, err := m.candidates(ctx, table, recs)
		if err != nil {
			passErr = err
			clean[table] = false
			continue
		}
		found, err := m.resolver.DetectConflicts(ctx, table, recs, locals)
		if err != nil {
			passErr = err
			clean[table] = false
			continue
		}
		result.Conflicts += len(found)
	}

	// Phase 4: commit. Resolve conflicts, then advance last-sync for the
	// cleanly downloaded tables to the pass start, so remote writes that
	// landed mid-pass are picked up next time.
	resolved, err := m.resolver.ResolveConflicts(ctx)
	if err != nil {
		passErr = err
		return result, passErr
	}
	result.Resolved = resolved

	for table, ok := range clean {
		if !ok {
			continue
		}
		if err := m.state.SetLastSync(ctx, m.userID, string(table), passStart); err != nil {
			passErr = err
		}
	}

	return result, passErr
}

// candidates selects the local records worth reconciling against the
// delta for a table.
func (m *Manager) candidates(ctx context.Context, table registry.Table, delta []*models.Record) ([]*models.Record, error) {
	inDelta := make(map[models.UUID]bool, len(delta))
	for _, rec := range delta {
		inDelta[rec.ID] = true
	}

	locals, err := m.store.ListForSync(ctx, table, m.userID)
	if err != nil {
		return nil, err
	}

	out := locals[:0]
	for _, rec := range locals {
		if rec.Local || rec.Deleted || inDelta[rec.ID] {
			out = append(out, rec)
		}
	}
	return out, nil
}

// applyQueueItem replays one queued mutation against the remote service.
// Insert and update are idempotent on id, so re-applying after a crash
// cannot duplicate data.
func (m *Manager) applyQueueItem(ctx context.Context, item *models.QueueItem) error {
	table := registry.Table(item.Table)
	id := item.Payload.ID.String()

	switch item.Action {
	case models.ActionCreate:
		echo, err := m.remote.Insert(ctx, item.Table, item.Payload)
		if err != nil {
			return err
		}
		return m.store.Confirm(ctx, table, echo)

	case models.ActionUpdate:
		echo, err := m.remote.Update(ctx, item.Table, id, item.Payload.Fields)
		if err != nil {
			return err
		}
		return m.store.Confirm(ctx, table, echo)

	case models.ActionDelete:
		err := m.remote.Delete(ctx, item.Table, id)
		if err != nil && !errors.IsNotFound(err) {
			return err
		}
		// Absence counts as confirmation.
		return m.store.Purge(ctx, table, id)

	default:
		return errors.Newf(errors.ErrValidation, "unknown queue action %q", item.Action)
	}
}
