// Package db provides the durable storage backends for the sync core: a
// SQLite engine with secondary indices and a flat-file fallback with
// identical semantics.
package db

import (
	"context"

	"github.com/jtarver/budgeteer/internal/models"
)

// RecordStore is the raw record persistence surface. It stores and returns
// tombstoned records; visibility filtering is the store layer's job.
type RecordStore interface {
	// PutRecord inserts or replaces a record in the given table.
	PutRecord(ctx context.Context, table string, rec *models.Record) error

	// GetRecord returns the record, tombstoned or not. ErrNotFound when absent.
	GetRecord(ctx context.Context, table, id string) (*models.Record, error)

	// DeleteRecord removes the record permanently.
	DeleteRecord(ctx context.Context, table, id string) error

	// ListRecords returns all records owned by userID, tombstones included,
	// ordered by creation time.
	ListRecords(ctx context.Context, table, userID string) ([]*models.Record, error)
}

// QueueStore persists pending mutations in FIFO order.
type QueueStore interface {
	// AppendQueueItem stores the item and assigns its Seq.
	AppendQueueItem(ctx context.Context, item *models.QueueItem) error

	// ListQueueItems returns all items in FIFO order.
	ListQueueItems(ctx context.Context) ([]*models.QueueItem, error)

	// UpdateQueueItem persists retry accounting for an existing item.
	UpdateQueueItem(ctx context.Context, item *models.QueueItem) error

	// RemoveQueueItem deletes the item.
	RemoveQueueItem(ctx context.Context, id models.UUID) error

	// CountQueueItems returns the number of pending items.
	CountQueueItems(ctx context.Context) (int, error)
}

// ConflictStore persists detected conflicts until they are resolved, and
// resolved ones for audit.
type ConflictStore interface {
	PutConflict(ctx context.Context, c *models.Conflict) error
	ListUnresolvedConflicts(ctx context.Context) ([]*models.Conflict, error)
}

// StateStore persists the per-(user, table) timestamp of the last
// successful sync pass.
type StateStore interface {
	// LastSync returns 0 when the pair has never completed a pass.
	LastSync(ctx context.Context, userID, table string) (int64, error)
	SetLastSync(ctx context.Context, userID, table string, ts int64) error
}

// Backend is the full persistence surface the sync core wires together.
type Backend interface {
	RecordStore
	QueueStore
	ConflictStore
	StateStore
	Close() error
}
