package db

import (
	"context"
	"encoding/json"

	"github.com/jtarver/budgeteer/internal/errors"
	"github.com/jtarver/budgeteer/internal/models"
)

// AppendQueueItem stores a pending mutation. The AUTOINCREMENT seq column
// assigns the FIFO position, which survives restarts.
func (db *DB) AppendQueueItem(ctx context.Context, item *models.QueueItem) error {
	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "marshal queue payload", err)
	}

	res, err := db.ExecContext(ctx, `
	INSERT INTO sync_queue (id, action, tbl, payload, timestamp, retry_count)
	VALUES (?, ?, ?, ?, ?, ?)`,
		item.ID, item.Action, item.Table, string(payload), item.Timestamp, item.RetryCount)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "append queue item", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "queue seq", err)
	}
	item.Seq = seq
	return nil
}

// ListQueueItems returns all pending items in FIFO order.
func (db *DB) ListQueueItems(ctx context.Context) ([]*models.QueueItem, error) {
	rows, err := db.QueryContext(ctx, `
	SELECT seq, id, action, tbl, payload, timestamp, retry_count
	FROM sync_queue ORDER BY seq`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "list queue items", err)
	}
	defer rows.Close()

	var out []*models.QueueItem
	for rows.Next() {
		var item models.QueueItem
		var payload string
		if err := rows.Scan(&item.Seq, &item.ID, &item.Action, &item.Table,
			&payload, &item.Timestamp, &item.RetryCount); err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "scan queue item", err)
		}
		if err := json.Unmarshal([]byte(payload), &item.Payload); err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "unmarshal queue payload", err)
		}
		out = append(out, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "list queue items", err)
	}
	return out, nil
}

// UpdateQueueItem persists retry accounting for an existing item.
func (db *DB) UpdateQueueItem(ctx context.Context, item *models.QueueItem) error {
	_, err := db.ExecContext(ctx,
		"UPDATE sync_queue SET retry_count = ? WHERE id = ?", item.RetryCount, item.ID)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "update queue item", err)
	}
	return nil
}

// RemoveQueueItem deletes an item, either applied or dropped.
func (db *DB) RemoveQueueItem(ctx context.Context, id models.UUID) error {
	_, err := db.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "remove queue item", err)
	}
	return nil
}

// CountQueueItems returns the number of pending items.
func (db *DB) CountQueueItems(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue").Scan(&n); err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "count queue items", err)
	}
	return n, nil
}
