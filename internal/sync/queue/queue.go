// Package queue implements the durable mutation queue: the ordered log of
// create/update/delete operations not yet confirmed by the remote service.
package queue

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jtarver/budgeteer/internal/db"
	"github.com/jtarver/budgeteer/internal/errors"
	"github.com/jtarver/budgeteer/internal/models"
)

// DropFunc observes a dropped queue item. Retry exhaustion silently loses
// the mutation by design (the queue must stay bounded), so the drop is at
// least surfaced here and in the logs for metrics and diagnostics.
type DropFunc func(item *models.QueueItem, err error)

// Queue is the durable FIFO mutation queue. All state lives in the storage
// backend; the Queue itself only holds wiring.
type Queue struct {
	storage db.QueueStore
	logger  zerolog.Logger
	onDrop  DropFunc
}

// New creates a Queue on top of the given storage.
func New(storage db.QueueStore, logger zerolog.Logger) *Queue {
	return &Queue{
		storage: storage,
		logger:  logger.With().Str("component", "queue").Logger(),
	}
}

// OnDrop registers an observer for dropped items.
func (q *Queue) OnDrop(fn DropFunc) {
	q.onDrop = fn
}

// Enqueue appends a pending mutation. Payload carries the full record
// snapshot for creates, the id plus partial fields for updates, and just
// the id for deletes.
func (q *Queue) Enqueue(ctx context.Context, action models.Action, table string, payload *models.Record) (*models.QueueItem, error) {
	item := &models.QueueItem{
		ID:        models.NewUUID(),
		Action:    action,
		Table:     table,
		Payload:   payload.Clone(),
		Timestamp: models.NowMilli(),
	}
	if err := q.storage.AppendQueueItem(ctx, item); err != nil {
		return nil, err
	}

	q.logger.Debug().
		Str("item_id", item.ID.String()).
		Str("action", string(action)).
		Str("table", table).
		Str("record_id", payload.ID.String()).
		Msg("enqueued mutation")
	return item, nil
}

// Size returns the number of pending items.
func (q *Queue) Size(ctx context.Context) (int, error) {
	return q.storage.CountQueueItems(ctx)
}

// DrainStats summarizes one drain pass.
type DrainStats struct {
	Applied int
	Failed  int
	Dropped int
	Skipped int
}

// Drain processes pending items strictly sequentially in FIFO order,
// calling apply for each. Applied items are removed. A failed item has its
// retry count bumped and is dropped once the cap is reached; a validation
// rejection drops immediately since retrying cannot succeed. When an item
// fails, later items for the same record are skipped this pass so
// per-record mutation order is preserved.
func (q *Queue) Drain(ctx context.Context, apply func(ctx context.Context, item *models.QueueItem) error) (*DrainStats, error) {
	items, err := q.storage.ListQueueItems(ctx)
	if err != nil {
		return nil, err
	}

	stats := &DrainStats{}
	blocked := make(map[models.UUID]bool)

	for _, item := range items {
		recordID := item.Payload.ID
		if blocked[recordID] {
			stats.Skipped++
			continue
		}

		applyErr := apply(ctx, item)
		if applyErr == nil {
			if err := q.storage.RemoveQueueItem(ctx, item.ID); err != nil {
				return stats, err
			}
			stats.Applied++
			continue
		}

		if errors.Is(applyErr, errors.ErrValidation) {
			// Retrying an invalid payload cannot succeed.
			if err := q.drop(ctx, item, applyErr); err != nil {
				return stats, err
			}
			stats.Dropped++
			blocked[recordID] = true
			continue
		}

		item.RetryCount++
		if item.Exhausted() {
			dropErr := errors.Wrap(errors.ErrRetryExhausted,
				"queue item failed too many times", applyErr)
			if err := q.drop(ctx, item, dropErr); err != nil {
				return stats, err
			}
			stats.Dropped++
		} else {
			if err := q.storage.UpdateQueueItem(ctx, item); err != nil {
				return stats, err
			}
			q.logger.Debug().
				Str("item_id", item.ID.String()).
				Int("retry_count", item.RetryCount).
				Err(applyErr).
				Msg("queue item failed, will retry")
			stats.Failed++
		}
		blocked[recordID] = true
	}

	return stats, nil
}

// drop removes the item and surfaces the loss.
func (q *Queue) drop(ctx context.Context, item *models.QueueItem, cause error) error {
	if err := q.storage.RemoveQueueItem(ctx, item.ID); err != nil {
		return err
	}

	q.logger.Warn().
		Str("item_id", item.ID.String()).
		Str("action", string(item.Action)).
		Str("table", item.Table).
		Str("record_id", item.Payload.ID.String()).
		Int("retry_count", item.RetryCount).
		Err(cause).
		Msg("dropping queued mutation")

	if q.onDrop != nil {
		q.onDrop(item, cause)
	}
	return nil
}
