package store

import (
	"database/sql"
	"fmt"

	"acms/internal/logging"
)

// storeSchemaVersion tracks this package's own table shape, independent of
// domain.CurrentSchemaVersion (which versions the MemoryItem payload the
// store serializes, not the tables it serializes it into).
const storeSchemaVersion = 1

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS memory_items (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	topic_id          TEXT NOT NULL,
	encrypted_content BLOB NOT NULL,
	encrypted_vector  BLOB,
	vector_dimensions INTEGER NOT NULL DEFAULT 0,
	tier              TEXT NOT NULL,
	retention_score   REAL NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL,
	last_used_at      DATETIME NOT NULL,
	access_count      INTEGER NOT NULL DEFAULT 0,
	pii_flags         TEXT,
	outcome_log       TEXT,
	archived          INTEGER NOT NULL DEFAULT 0,
	archived_at       DATETIME,
	pinned            INTEGER NOT NULL DEFAULT 0,
	source_items      TEXT,
	key_id            TEXT NOT NULL,
	schema_version    INTEGER NOT NULL DEFAULT 1,
	version           INTEGER NOT NULL DEFAULT 1,
	quarantined       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_memory_items_user_topic ON memory_items(user_id, topic_id);
CREATE INDEX IF NOT EXISTS idx_memory_items_user_tier ON memory_items(user_id, tier);
CREATE INDEX IF NOT EXISTS idx_memory_items_user_archived ON memory_items(user_id, archived);
CREATE INDEX IF NOT EXISTS idx_memory_items_user_pinned ON memory_items(user_id, pinned);

CREATE TABLE IF NOT EXISTS audit_events (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	action      TEXT NOT NULL,
	resource_id TEXT,
	metadata    TEXT,
	client_ip   TEXT,
	timestamp   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_user_time ON audit_events(user_id, timestamp);

CREATE TABLE IF NOT EXISTS tier_transitions (
	id        TEXT PRIMARY KEY,
	item_id   TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	from_tier TEXT NOT NULL,
	to_tier   TEXT NOT NULL,
	score     REAL NOT NULL,
	reason    TEXT NOT NULL,
	timestamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tier_transitions_user_time ON tier_transitions(user_id, timestamp);

CREATE TABLE IF NOT EXISTS consolidation_events (
	id                    TEXT PRIMARY KEY,
	user_id               TEXT NOT NULL,
	source_tier           TEXT NOT NULL,
	target_tier           TEXT NOT NULL,
	source_count          INTEGER NOT NULL,
	consolidated_item_ids TEXT NOT NULL,
	duration_ms           INTEGER NOT NULL,
	timestamp             DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS query_logs (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL,
	query_content_hash TEXT NOT NULL,
	item_ids_used      TEXT,
	response_hash      TEXT,
	timestamp          DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_logs_user_time ON query_logs(user_id, timestamp);
`

// pendingColumnMigrations lists additive columns applied to pre-existing
// databases, the same way the teacher's migrations.go upgrades older
// on-disk schemas without a destructive rebuild.
var pendingColumnMigrations = []struct {
	table, column, def string
}{
	{"memory_items", "quarantined", "INTEGER NOT NULL DEFAULT 0"},
}

func runSchemaMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "runSchemaMigrations")
	defer timer.Stop()

	if _, err := db.Exec(createTablesSQL); err != nil {
		return fmt.Errorf("create base tables: %w", err)
	}

	for _, m := range pendingColumnMigrations {
		if !tableExists(db, m.table) {
			continue
		}
		if columnExists(db, m.table, m.column) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.table, m.column, m.def)
		if _, err := db.Exec(stmt); err != nil {
			logging.Get(logging.CategoryStore).Warn("migration failed %s.%s: %v", m.table, m.column, err)
			continue
		}
		logging.Store("migration applied: %s.%s", m.table, m.column)
	}
	return nil
}

func tableExists(db *sql.DB, table string) bool {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	return err == nil && count > 0
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
