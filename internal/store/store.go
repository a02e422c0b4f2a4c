// Package store implements the Local Store: the durable, per-table record
// layer every CRUD call goes through, and the single owner of persisted
// entity state. Mutations are applied remote-first; when the remote service
// is unreachable the locally-constructed result is persisted as-is and an
// equivalent item lands on the mutation queue, so the caller is never
// blocked by connectivity.
package store

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jtarver/budgeteer/internal/db"
	"github.com/jtarver/budgeteer/internal/errors"
	"github.com/jtarver/budgeteer/internal/models"
	"github.com/jtarver/budgeteer/internal/registry"
	"github.com/jtarver/budgeteer/internal/sync/queue"
)

// Store is the Local Store.
type Store struct {
	records db.RecordStore
	remote  remoteService
	queue   *queue.Queue
	reg     *registry.Registry
	logger  zerolog.Logger
	now     func() int64
}

// remoteService mirrors remote.Service; declared locally so the store
// depends on the operations it consumes, not the remote package.
type remoteService interface {
	Insert(ctx context.Context, table string, rec *models.Record) (*models.Record, error)
	Update(ctx context.Context, table, id string, partial models.Fields) (*models.Record, error)
	Delete(ctx context.Context, table, id string) error
}

// New creates a Store.
func New(records db.RecordStore, remote remoteService, q *queue.Queue, reg *registry.Registry, logger zerolog.Logger) *Store {
	return &Store{
		records: records,
		remote:  remote,
		queue:   q,
		reg:     reg,
		logger:  logger.With().Str("component", "store").Logger(),
		now:     models.NowMilli,
	}
}

// SetClock overrides the timestamp source. Tests use it to make
// monotonicity observable.
func (s *Store) SetClock(now func() int64) {
	s.now = now
}

// Create assigns id and timestamps, attempts the remote insert, and
// persists either the server's authoritative copy or the local
// construction plus a queued create. A validation rejection is surfaced to
// the caller with nothing persisted or queued.
func (s *Store) Create(ctx context.Context, table registry.Table, userID string, fields models.Fields) (*models.Record, error) {
	if err := s.checkTable(table); err != nil {
		return nil, err
	}

	rec := models.NewRecord(userID, fields, s.now())

	echo, err := s.remote.Insert(ctx, string(table), rec)
	switch {
	case err == nil:
		echo.Local = false
		if err := s.records.PutRecord(ctx, string(table), echo); err != nil {
			return nil, err
		}
		return echo, nil

	case errors.Is(err, errors.ErrValidation):
		return nil, err

	default:
		s.logger.Debug().
			Str("table", string(table)).
			Str("record_id", rec.ID.String()).
			Err(err).
			Msg("remote insert failed, queueing")
		if err := s.records.PutRecord(ctx, string(table), rec); err != nil {
			return nil, err
		}
		if _, err := s.queue.Enqueue(ctx, models.ActionCreate, string(table), rec); err != nil {
			return nil, err
		}
		return rec, nil
	}
}

// Update shallow-merges the partial update onto the existing record, bumps
// UpdatedAt, and follows the same remote-then-queue fallback as Create.
// Absent or tombstoned records fail with NotFound immediately.
func (s *Store) Update(ctx context.Context, table registry.Table, id string, partial models.Fields) (*models.Record, error) {
	if err := s.checkTable(table); err != nil {
		return nil, err
	}

	existing, err := s.records.GetRecord(ctx, string(table), id)
	if err != nil {
		return nil, err
	}
	if existing.Deleted {
		return nil, errors.Newf(errors.ErrNotFound, "record %s in %s is deleted", id, table)
	}

	updated := existing.Clone()
	updated.Fields = existing.Fields.Merge(partial)
	updated.Touch(s.now())

	echo, err := s.remote.Update(ctx, string(table), id, partial)
	switch {
	case err == nil:
		echo.Local = false
		clampUpdatedAt(echo, existing)
		if err := s.records.PutRecord(ctx, string(table), echo); err != nil {
			return nil, err
		}
		return echo, nil

	case errors.Is(err, errors.ErrValidation):
		return nil, err

	default:
		s.logger.Debug().
			Str("table", string(table)).
			Str("record_id", id).
			Err(err).
			Msg("remote update failed, queueing")
		updated.Local = true
		if err := s.records.PutRecord(ctx, string(table), updated); err != nil {
			return nil, err
		}
		payload := &models.Record{
			ID:        updated.ID,
			UserID:    updated.UserID,
			UpdatedAt: updated.UpdatedAt,
			Fields:    partial.Clone(),
		}
		if _, err := s.queue.Enqueue(ctx, models.ActionUpdate, string(table), payload); err != nil {
			return nil, err
		}
		return updated, nil
	}
}

// Delete confirms the remote deletion and purges locally, or tombstones
// the record and queues the delete. Tombstoned records disappear from
// GetAll immediately, before remote confirmation.
func (s *Store) Delete(ctx context.Context, table registry.Table, id string) error {
	if err := s.checkTable(table); err != nil {
		return err
	}

	existing, err := s.records.GetRecord(ctx, string(table), id)
	if err != nil {
		return err
	}
	if existing.Deleted {
		return errors.Newf(errors.ErrNotFound, "record %s in %s is deleted", id, table)
	}

	err = s.remote.Delete(ctx, string(table), id)
	switch {
	case err == nil:
		return s.records.DeleteRecord(ctx, string(table), id)

	case errors.Is(err, errors.ErrNotFound):
		// Already gone remotely; deletion is confirmed by absence.
		return s.records.DeleteRecord(ctx, string(table), id)

	default:
		s.logger.Debug().
			Str("table", string(table)).
			Str("record_id", id).
			Err(err).
			Msg("remote delete failed, tombstoning")
		tombstone := existing.Clone()
		tombstone.Deleted = true
		tombstone.Local = true
		tombstone.Touch(s.now())
		if err := s.records.PutRecord(ctx, string(table), tombstone); err != nil {
			return err
		}
		payload := &models.Record{ID: tombstone.ID, UserID: tombstone.UserID, Deleted: true}
		if _, err := s.queue.Enqueue(ctx, models.ActionDelete, string(table), payload); err != nil {
			return err
		}
		return nil
	}
}

// GetAll returns the user's records, excluding tombstones.
func (s *Store) GetAll(ctx context.Context, table registry.Table, userID string) ([]*models.Record, error) {
	if err := s.checkTable(table); err != nil {
		return nil, err
	}

	all, err := s.records.ListRecords(ctx, string(table), userID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Record, 0, len(all))
	for _, rec := range all {
		if !rec.Deleted {
			out = append(out, rec)
		}
	}
	return out, nil
}

// GetByID returns the record or NotFound; tombstoned records are absent to
// callers.
func (s *Store) GetByID(ctx context.Context, table registry.Table, id string) (*models.Record, error) {
	if err := s.checkTable(table); err != nil {
		return nil, err
	}

	rec, err := s.records.GetRecord(ctx, string(table), id)
	if err != nil {
		return nil, err
	}
	if rec.Deleted {
		return nil, errors.Newf(errors.ErrNotFound, "record %s in %s is deleted", id, table)
	}
	return rec, nil
}

// ListForSync returns the user's records including tombstones and
// unconfirmed local records. The sync manager reads through this instead
// of keeping its own copy of entity state.
func (s *Store) ListForSync(ctx context.Context, table registry.Table, userID string) ([]*models.Record, error) {
	if err := s.checkTable(table); err != nil {
		return nil, err
	}
	return s.records.ListRecords(ctx, string(table), userID)
}

// ImportRemote persists a remote-authoritative record during the download
// phase: no remote attempt, no queueing, server timestamps kept.
func (s *Store) ImportRemote(ctx context.Context, table registry.Table, rec *models.Record) error {
	if err := s.checkTable(table); err != nil {
		return err
	}
	imported := rec.Clone()
	imported.Local = false
	if imported.Deleted {
		// A confirmed remote delete needs no local tombstone.
		return s.records.DeleteRecord(ctx, string(table), imported.ID.String())
	}
	return s.records.PutRecord(ctx, string(table), imported)
}

// Confirm persists the server's echo after a queued mutation was applied,
// flipping the record out of the local state.
func (s *Store) Confirm(ctx context.Context, table registry.Table, echo *models.Record) error {
	if err := s.checkTable(table); err != nil {
		return err
	}
	confirmed := echo.Clone()
	confirmed.Local = false
	if existing, err := s.records.GetRecord(ctx, string(table), confirmed.ID.String()); err == nil {
		clampUpdatedAt(confirmed, existing)
	}
	return s.records.PutRecord(ctx, string(table), confirmed)
}

// ApplyResolution writes a conflict resolution back through the store's
// ordinary mutation paths, so timestamp monotonicity and tombstone
// handling hold for reconciled records too. A server adoption only needs
// the local side updated; client and merge outcomes must also reach the
// remote service and follow the same remote-then-queue fallback as Update
// and Delete.
func (s *Store) ApplyResolution(ctx context.Context, table registry.Table, winner *models.Record, origin models.Resolution) (*models.Record, error) {
	if err := s.checkTable(table); err != nil {
		return nil, err
	}

	if origin == models.ResolutionServer {
		if err := s.ImportRemote(ctx, table, winner); err != nil {
			return nil, err
		}
		return winner, nil
	}

	existing, err := s.records.GetRecord(ctx, string(table), winner.ID.String())
	if err != nil && !errors.IsNotFound(err) {
		return nil, err
	}

	if winner.Deleted {
		// Adopting a client-side delete. The original Delete call already
		// queued the remote delete; deleting twice is confirmed by absence.
		if existing == nil || existing.Deleted {
			return existing, nil
		}
		tombstone := existing.Clone()
		tombstone.Deleted = true
		tombstone.Local = true
		tombstone.Touch(s.now())
		if err := s.records.PutRecord(ctx, string(table), tombstone); err != nil {
			return nil, err
		}
		payload := &models.Record{ID: tombstone.ID, UserID: tombstone.UserID, Deleted: true}
		if _, err := s.queue.Enqueue(ctx, models.ActionDelete, string(table), payload); err != nil {
			return nil, err
		}
		return tombstone, nil
	}

	reconciled := winner.Clone()
	reconciled.Deleted = false
	if existing != nil {
		reconciled.CreatedAt = existing.CreatedAt
		if existing.UpdatedAt > reconciled.UpdatedAt {
			reconciled.UpdatedAt = existing.UpdatedAt
		}
	}
	// Reconciled records get a fresh, strictly increasing stamp.
	reconciled.Touch(s.now())

	echo, err := s.remote.Update(ctx, string(table), reconciled.ID.String(), reconciled.Fields)
	switch {
	case err == nil:
		echo.Local = false
		clampUpdatedAt(echo, reconciled)
		if err := s.records.PutRecord(ctx, string(table), echo); err != nil {
			return nil, err
		}
		return echo, nil

	case errors.Is(err, errors.ErrValidation):
		return nil, err

	default:
		reconciled.Local = true
		if err := s.records.PutRecord(ctx, string(table), reconciled); err != nil {
			return nil, err
		}
		payload := &models.Record{
			ID:        reconciled.ID,
			UserID:    reconciled.UserID,
			UpdatedAt: reconciled.UpdatedAt,
			Fields:    reconciled.Fields.Clone(),
		}
		if _, err := s.queue.Enqueue(ctx, models.ActionUpdate, string(table), payload); err != nil {
			return nil, err
		}
		return reconciled, nil
	}
}

// Purge removes a record permanently after its remote deletion was
// confirmed.
func (s *Store) Purge(ctx context.Context, table registry.Table, id string) error {
	if err := s.checkTable(table); err != nil {
		return err
	}
	return s.records.DeleteRecord(ctx, string(table), id)
}

func (s *Store) checkTable(table registry.Table) error {
	if !s.reg.Has(table) {
		return errors.Newf(errors.ErrUnknownTable, "table %q is not registered", table)
	}
	return nil
}

// clampUpdatedAt keeps UpdatedAt strictly increasing locally even when the
// server's clock trails the local one.
func clampUpdatedAt(rec, prev *models.Record) {
	if rec.UpdatedAt <= prev.UpdatedAt {
		rec.UpdatedAt = prev.UpdatedAt + 1
	}
}
