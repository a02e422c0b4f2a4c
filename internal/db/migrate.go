package db

import (
	"fmt"
	"regexp"
)

// Entity table names come from configuration, so they are validated as
// identifiers before being interpolated into DDL.
var tableNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// reservedTables are the core's own tables; entity tables may not shadow them.
var reservedTables = map[string]bool{
	"sync_queue": true,
	"conflicts":  true,
	"sync_state": true,
}

// Migrate creates the schema: one table per registered entity kind, each
// keyed by id with secondary lookups by user_id, created_at and updated_at,
// plus the sync_queue, conflicts and sync_state tables. All statements are
// idempotent, so Migrate runs on every startup.
func (db *DB) Migrate(tables []string) error {
	for _, t := range tables {
		if !tableNameRe.MatchString(t) {
			return fmt.Errorf("invalid table name %q", t)
		}
		if reservedTables[t] {
			return fmt.Errorf("table name %q is reserved", t)
		}
		if err := db.createEntityTable(t); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t, err)
		}
	}

	for _, ddl := range []string{queueDDL, conflictsDDL, stateDDL} {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create core table: %w", err)
		}
	}
	return nil
}

func (db *DB) createEntityTable(name string) error {
	ddl := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		local INTEGER NOT NULL DEFAULT 0,
		fields TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_user_id ON %[1]s(user_id);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_created_at ON %[1]s(created_at);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_updated_at ON %[1]s(updated_at);
	`, name)
	_, err := db.Exec(ddl)
	return err
}

const queueDDL = `
CREATE TABLE IF NOT EXISTS sync_queue (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	action TEXT NOT NULL,
	tbl TEXT NOT NULL,
	payload TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sync_queue_timestamp ON sync_queue(timestamp);
`

const conflictsDDL = `
CREATE TABLE IF NOT EXISTS conflicts (
	id TEXT PRIMARY KEY,
	tbl TEXT NOT NULL,
	record_id TEXT NOT NULL,
	server_version TEXT,
	client_version TEXT,
	conflict_type TEXT NOT NULL,
	resolved INTEGER NOT NULL DEFAULT 0,
	resolution TEXT NOT NULL DEFAULT '',
	merged_fields TEXT,
	detected_at INTEGER NOT NULL,
	resolved_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_conflicts_resolved ON conflicts(resolved);
CREATE INDEX IF NOT EXISTS idx_conflicts_record ON conflicts(tbl, record_id);
`

const stateDDL = `
CREATE TABLE IF NOT EXISTS sync_state (
	user_id TEXT NOT NULL,
	tbl TEXT NOT NULL,
	last_sync INTEGER NOT NULL,
	PRIMARY KEY (user_id, tbl)
);
`

// quoteIdent validates a table name at query time. Entity tables passed to
// the record operations must already have gone through Migrate, but query
// construction revalidates rather than trusting the caller.
func quoteIdent(name string) (string, error) {
	if !tableNameRe.MatchString(name) || reservedTables[name] {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	return name, nil
}
