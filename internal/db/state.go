package db

import (
	"context"
	"database/sql"

	"github.com/jtarver/budgeteer/internal/errors"
)

// LastSync returns the timestamp of the last successful sync pass for the
// (user, table) pair, or 0 when none has completed.
func (db *DB) LastSync(ctx context.Context, userID, table string) (int64, error) {
	var ts int64
	err := db.QueryRowContext(ctx,
		"SELECT last_sync FROM sync_state WHERE user_id = ? AND tbl = ?",
		userID, table).Scan(&ts)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "last sync", err)
	}
	return ts, nil
}

// SetLastSync advances the last successful pass timestamp.
func (db *DB) SetLastSync(ctx context.Context, userID, table string, ts int64) error {
	_, err := db.ExecContext(ctx, `
	INSERT INTO sync_state (user_id, tbl, last_sync) VALUES (?, ?, ?)
	ON CONFLICT(user_id, tbl) DO UPDATE SET last_sync = excluded.last_sync`,
		userID, table, ts)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "set last sync", err)
	}
	return nil
}
