package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jtarver/budgeteer/internal/errors"
	"github.com/jtarver/budgeteer/internal/models"
)

const recordColumns = "id, user_id, created_at, updated_at, deleted, local, fields"

// PutRecord inserts or replaces a record. Upsert keeps the call idempotent
// for both local writes and remote-download applies.
func (db *DB) PutRecord(ctx context.Context, table string, rec *models.Record) error {
	tbl, err := quoteIdent(table)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "put record", err)
	}

	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "marshal record fields", err)
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		user_id = excluded.user_id,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		deleted = excluded.deleted,
		local = excluded.local,
		fields = excluded.fields
	`, tbl, recordColumns)

	_, err = db.ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.CreatedAt, rec.UpdatedAt, rec.Deleted, rec.Local, string(fields))
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "put record", err)
	}
	return nil
}

// GetRecord returns the record with the given id, tombstoned or not.
func (db *DB) GetRecord(ctx context.Context, table, id string) (*models.Record, error) {
	tbl, err := quoteIdent(table)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "get record", err)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", recordColumns, tbl)
	rec, err := scanRecord(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.ErrNotFound, "record %s not found in %s", id, table)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "get record", err)
	}
	return rec, nil
}

// DeleteRecord removes the record permanently.
func (db *DB) DeleteRecord(ctx context.Context, table, id string) error {
	tbl, err := quoteIdent(table)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "delete record", err)
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", tbl)
	if _, err := db.ExecContext(ctx, query, id); err != nil {
		return errors.Wrap(errors.ErrStorage, "delete record", err)
	}
	return nil
}

// ListRecords returns every record owned by userID, tombstones included,
// ordered by creation time. The user_id secondary index backs this query.
func (db *DB) ListRecords(ctx context.Context, table, userID string) ([]*models.Record, error) {
	tbl, err := quoteIdent(table)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "list records", err)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE user_id = ? ORDER BY created_at, id", recordColumns, tbl)
	rows, err := db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "list records", err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "scan record", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "list records", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var rec models.Record
	var fields string
	err := row.Scan(&rec.ID, &rec.UserID, &rec.CreatedAt, &rec.UpdatedAt,
		&rec.Deleted, &rec.Local, &fields)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal record fields: %w", err)
	}
	return &rec, nil
}
