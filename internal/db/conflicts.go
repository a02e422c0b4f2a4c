package db

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jtarver/budgeteer/internal/errors"
	"github.com/jtarver/budgeteer/internal/models"
)

// PutConflict inserts or replaces a conflict row. Resolution marks a
// conflict resolved in place and re-detection reopens it with fresh
// versions, so upsert replaces the full row.
func (db *DB) PutConflict(ctx context.Context, c *models.Conflict) error {
	server, err := marshalNullable(c.ServerVersion)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "marshal server version", err)
	}
	client, err := marshalNullable(c.ClientVersion)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "marshal client version", err)
	}
	var merged sql.NullString
	if c.MergedFields != nil {
		b, err := json.Marshal(c.MergedFields)
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "marshal merged fields", err)
		}
		merged = sql.NullString{String: string(b), Valid: true}
	}

	_, err = db.ExecContext(ctx, `
	INSERT INTO conflicts (id, tbl, record_id, server_version, client_version,
		conflict_type, resolved, resolution, merged_fields, detected_at, resolved_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		server_version = excluded.server_version,
		client_version = excluded.client_version,
		conflict_type = excluded.conflict_type,
		resolved = excluded.resolved,
		resolution = excluded.resolution,
		merged_fields = excluded.merged_fields,
		detected_at = excluded.detected_at,
		resolved_at = excluded.resolved_at`,
		c.ID, c.Table, c.RecordID, server, client, c.Type,
		c.Resolved, c.Resolution, merged, c.DetectedAt, c.ResolvedAt)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "put conflict", err)
	}
	return nil
}

// ListUnresolvedConflicts returns pending conflicts in detection order.
func (db *DB) ListUnresolvedConflicts(ctx context.Context) ([]*models.Conflict, error) {
	rows, err := db.QueryContext(ctx, `
	SELECT id, tbl, record_id, server_version, client_version, conflict_type,
		resolved, resolution, merged_fields, detected_at, resolved_at
	FROM conflicts WHERE resolved = 0 ORDER BY detected_at, id`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "list conflicts", err)
	}
	defer rows.Close()

	var out []*models.Conflict
	for rows.Next() {
		var c models.Conflict
		var server, client, merged sql.NullString
		if err := rows.Scan(&c.ID, &c.Table, &c.RecordID, &server, &client,
			&c.Type, &c.Resolved, &c.Resolution, &merged, &c.DetectedAt, &c.ResolvedAt); err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "scan conflict", err)
		}
		if c.ServerVersion, err = unmarshalNullable(server); err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "unmarshal server version", err)
		}
		if c.ClientVersion, err = unmarshalNullable(client); err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "unmarshal client version", err)
		}
		if merged.Valid {
			if err := json.Unmarshal([]byte(merged.String), &c.MergedFields); err != nil {
				return nil, errors.Wrap(errors.ErrStorage, "unmarshal merged fields", err)
			}
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "list conflicts", err)
	}
	return out, nil
}

func marshalNullable(rec *models.Record) (sql.NullString, error) {
	if rec == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalNullable(s sql.NullString) (*models.Record, error) {
	if !s.Valid {
		return nil, nil
	}
	var rec models.Record
	if err := json.Unmarshal([]byte(s.String), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
