// Package store implements the encrypted hybrid store of spec.md §4.2: a
// per-user SQLite database holding encrypted memory-item metadata/content
// alongside a sqlite-vec ANN index over their (unencrypted, per the
// documented serving-path trade-off) embedding vectors.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"acms/internal/domain"
	"acms/internal/logging"

	"github.com/mattn/go-sqlite3"
)

// Store is a single user's encrypted memory store.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
	dims int

	vectorExt bool // true when sqlite-vec's vec0 module loaded successfully
}

// Open creates or opens the SQLite database at path, sized for vectors of
// dimensionality dims (the configured embedder's output width — spec.md §9
// notes a dimensionality change requires a fresh index, not a migration).
func Open(path string, dims int) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, domain.Wrap(domain.KindInternal, "create store directory", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "open sqlite database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("pragma failed %q: %v", pragma, err)
		}
	}

	if err := runSchemaMigrations(db); err != nil {
		db.Close()
		return nil, domain.Wrap(domain.KindInternal, "run schema migrations", err)
	}

	s := &Store{db: db, path: path, dims: dims}
	s.vectorExt = initVecIndex(db, dims)
	if s.vectorExt {
		logging.Store("sqlite-vec index ready, dims=%d", dims)
	} else {
		logging.Get(logging.CategoryStore).Warn("sqlite-vec unavailable; ANN search will brute-force scan")
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert persists a new memory item and, if vec is non-nil, indexes its
// embedding for ANN retrieval. vec is the plaintext vector: the serving-path
// index is not rest-encrypted (spec.md §9 open question 4), so callers pass
// it separately from item.EncryptedVector (which, if set, is an
// encrypted-at-rest copy used only by export/import, never by Search).
func (s *Store) Insert(ctx context.Context, item *domain.MemoryItem, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.Version == 0 {
		item.Version = 1
	}
	if item.SchemaVersion == 0 {
		item.SchemaVersion = domain.CurrentSchemaVersion
	}

	piiJSON, outcomeJSON, sourceJSON, err := marshalItemSidecars(item)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "begin insert tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memory_items (
			id, user_id, topic_id, encrypted_content, encrypted_vector, vector_dimensions,
			tier, retention_score, created_at, last_used_at, access_count,
			pii_flags, outcome_log, archived, archived_at, pinned, source_items,
			key_id, schema_version, version, quarantined
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.UserID, item.TopicID, item.EncryptedContent, nullBlob(item.EncryptedVector), item.VectorDimensions,
		string(item.Tier), item.RetentionScore, item.CreatedAt, item.LastUsedAt, item.AccessCount,
		piiJSON, outcomeJSON, boolToInt(item.Archived), nullTime(item.ArchivedAt), boolToInt(item.Pinned), sourceJSON,
		item.KeyID, item.SchemaVersion, item.Version, boolToInt(item.Quarantined),
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return domain.ErrDuplicateID
		}
		return domain.Wrap(domain.KindInternal, "insert memory item", err)
	}

	if s.vectorExt && vec != nil {
		if err := upsertVecEntry(tx, item.ID, item.UserID, item.TopicID, item.Tier, item.RetentionScore, vec); err != nil {
			return domain.Wrap(domain.KindInternal, "index vector", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Wrap(domain.KindInternal, "commit insert tx", err)
	}
	return nil
}

// Get fetches one item, scoped to userID so one user can never read another's row.
func (s *Store) Get(ctx context.Context, userID, itemID string) (*domain.MemoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(ctx, userID, itemID)
}

// getLocked is Get's body without acquiring s.mu; callers that already hold
// s.mu (e.g. Search, iterating ANN candidates) must use this instead of Get
// to avoid the classic sync.RWMutex self-deadlock when a writer is queued
// between two RLock calls from the same goroutine.
func (s *Store) getLocked(ctx context.Context, userID, itemID string) (*domain.MemoryItem, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" FROM memory_items WHERE id = ? AND user_id = ?", itemID, userID)
	item, err := scanMemoryItem(row)
	if err == sql.ErrNoRows {
		return nil, domain.New(domain.KindNotFound, "memory item not found")
	}
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "get memory item", err)
	}
	return item, nil
}

// Search runs ANN (or brute-force fallback) candidate retrieval under filter
// and returns full decrypted-content-free items alongside their similarity.
// Decryption of EncryptedContent is the caller's responsibility (internal/rehydrate).
func (s *Store) Search(ctx context.Context, filter SearchFilter, queryVec []float32) ([]ScoredItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	var candidates []vecCandidate
	var err error
	if s.vectorExt && queryVec != nil {
		candidates, err = searchVecIndex(s.db, filter, queryVec)
		if err != nil {
			return nil, domain.Wrap(domain.KindInternal, "ann search", err)
		}
	}

	if candidates == nil {
		return s.bruteForceSearch(ctx, filter, queryVec)
	}

	out := make([]ScoredItem, 0, len(candidates))
	for _, c := range candidates {
		item, err := s.getLocked(ctx, filter.UserID, c.ItemID)
		if err != nil {
			continue // item may have been erased since indexing; skip, don't fail the whole search
		}
		if filter.ExcludeArchived && item.Archived {
			continue
		}
		if item.Quarantined {
			continue
		}
		out = append(out, ScoredItem{Item: item, Similarity: 1 - c.Distance})
	}
	return out, nil
}

// bruteForceSearch is the fallback path when sqlite-vec isn't available: it
// scans the user's rows and applies the filter predicates. It does not rank
// by similarity: results come back in table-scan order, and with a non-nil
// queryVec they are cut to filter.Limit.
func (s *Store) bruteForceSearch(ctx context.Context, filter SearchFilter, queryVec []float32) ([]ScoredItem, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+" FROM memory_items WHERE user_id = ?", filter.UserID)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "brute force scan", err)
	}
	defer rows.Close()

	var items []*domain.MemoryItem
	for rows.Next() {
		item, err := scanMemoryItem(rows)
		if err != nil {
			continue
		}
		if filter.ExcludeArchived && item.Archived {
			continue
		}
		if item.Quarantined {
			continue
		}
		if !matchesTopicFilter(item.TopicID, filter.TopicIDs) || !matchesTierFilter(item.Tier, filter.Tiers) {
			continue
		}
		if filter.MinScore > 0 && item.RetentionScore < filter.MinScore {
			continue
		}
		items = append(items, item)
	}

	if queryVec == nil {
		out := make([]ScoredItem, len(items))
		for i, it := range items {
			out[i] = ScoredItem{Item: it}
		}
		return out, nil
	}

	// Brute-force similarity needs plaintext vectors, which this scan never
	// had (encrypted_vector is ciphertext); without sqlite-vec, callers
	// without plaintext corpus vectors get unranked results here and must
	// re-rank in internal/rehydrate once they decrypt candidates themselves.
	out := make([]ScoredItem, len(items))
	for i, it := range items {
		out[i] = ScoredItem{Item: it}
	}
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpdateScore writes a new retention score under optimistic concurrency:
// the write is rejected with ErrVersionConflict if expectedVersion no
// longer matches the stored version (spec.md §4.2 "Ordering and concurrency").
func (s *Store) UpdateScore(ctx context.Context, userID, itemID string, score float64, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "begin update score tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE memory_items SET retention_score = ?, version = version + 1
		 WHERE id = ? AND user_id = ? AND version = ?`,
		score, itemID, userID, expectedVersion,
	)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "update score", err)
	}
	if err := requireSingleRowAffected(res); err != nil {
		return err
	}

	if s.vectorExt {
		if _, err := tx.ExecContext(ctx, "UPDATE vec_index SET retention_score = ? WHERE item_id = ?", score, itemID); err != nil {
			logging.StoreDebug("vec_index score sync failed for %s: %v", itemID, err)
		}
	}

	return commitOrWrap(tx)
}

// TransitionTier moves an item to a new tier, records the transition event,
// and bumps its version, all in one transaction.
func (s *Store) TransitionTier(ctx context.Context, ev domain.TierTransitionEvent, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "begin transition tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE memory_items SET tier = ?, version = version + 1
		 WHERE id = ? AND user_id = ? AND version = ?`,
		string(ev.ToTier), ev.ItemID, ev.UserID, expectedVersion,
	)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "update tier", err)
	}
	if err := requireSingleRowAffected(res); err != nil {
		return err
	}

	if s.vectorExt {
		if _, err := tx.ExecContext(ctx, "UPDATE vec_index SET tier = ? WHERE item_id = ?", string(ev.ToTier), ev.ItemID); err != nil {
			logging.StoreDebug("vec_index tier sync failed for %s: %v", ev.ItemID, err)
		}
	}

	if err := insertTierTransition(ctx, tx, ev); err != nil {
		return err
	}
	return commitOrWrap(tx)
}

// Archive soft-deletes an item: it remains queryable for audit/export but is
// excluded from retrieval by default (ExcludeArchived filter).
func (s *Store) Archive(ctx context.Context, userID, itemID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE memory_items SET archived = 1, archived_at = ?, version = version + 1
		 WHERE id = ? AND user_id = ? AND archived = 0`,
		at, itemID, userID,
	)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "archive item", err)
	}
	return requireSingleRowAffected(res)
}

// ItemEdit describes a content/pinned-flag edit for Update. A zero-value
// field means "leave unchanged": EncryptedContent nil, Vector nil, KeyID
// empty, Pinned nil.
type ItemEdit struct {
	EncryptedContent []byte
	Vector           []float32
	KeyID            string // set when the write also re-keys (lazy re-encryption on write, SPEC_FULL.md §5)
	Pinned           *bool
}

// Update edits an item's content, re-indexed vector, key id, and/or pinned
// flag under optimistic concurrency, mirroring TransitionTier's
// read-modify-write shape. edit_memory (spec.md §6) is the normal caller;
// lazy re-encryption on next write is decided in boundary's EditMemory, and
// Update persists the re-keyed ciphertext and its new KeyID.
func (s *Store) Update(ctx context.Context, userID, itemID string, edit ItemEdit, at time.Time, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "begin update tx", err)
	}
	defer tx.Rollback()

	current, err := s.getLocked(ctx, userID, itemID)
	if err != nil {
		return err
	}

	content := current.EncryptedContent
	if edit.EncryptedContent != nil {
		content = edit.EncryptedContent
	}
	keyID := current.KeyID
	if edit.KeyID != "" {
		keyID = edit.KeyID
	}
	pinned := current.Pinned
	if edit.Pinned != nil {
		pinned = *edit.Pinned
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE memory_items SET encrypted_content = ?, key_id = ?, pinned = ?, last_used_at = ?, version = version + 1
		 WHERE id = ? AND user_id = ? AND version = ?`,
		content, keyID, boolToInt(pinned), at, itemID, userID, expectedVersion,
	)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "update memory item", err)
	}
	if err := requireSingleRowAffected(res); err != nil {
		return err
	}

	if s.vectorExt && edit.Vector != nil {
		if err := upsertVecEntry(tx, itemID, userID, current.TopicID, current.Tier, current.RetentionScore, edit.Vector); err != nil {
			return domain.Wrap(domain.KindInternal, "re-index vector on update", err)
		}
	}

	return commitOrWrap(tx)
}

// Erase permanently deletes an item's encrypted content and its vector index
// entry in one transaction, so erasure-is-total holds even though the vec
// index isn't rest-encrypted (spec.md §8 property 3, resolved in SPEC_FULL.md
// open question 4).
func (s *Store) Erase(ctx context.Context, userID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "begin erase tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM memory_items WHERE id = ? AND user_id = ?", itemID, userID)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "erase memory item", err)
	}
	if err := requireSingleRowAffected(res); err != nil {
		return err
	}
	if s.vectorExt {
		if err := deleteVecEntry(tx, itemID); err != nil {
			return domain.Wrap(domain.KindInternal, "erase vector index entry", err)
		}
	}
	return commitOrWrap(tx)
}

// PurgeExpiredArchives hard-deletes archived items older than `before`,
// returning the number of rows removed (spec.md §4.5 archival retention
// sweep). tier, when non-empty, restricts the sweep to that tier's items, so
// callers can apply the tier-specific retention window (SHORT 7d, MID 14d,
// LONG 30d default) with one call per tier.
func (s *Store) PurgeExpiredArchives(ctx context.Context, userID string, tier domain.Tier, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := "SELECT id FROM memory_items WHERE user_id = ? AND archived = 1 AND archived_at < ?"
	args := []interface{}{userID, before}
	if tier != "" {
		query += " AND tier = ?"
		args = append(args, string(tier))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, domain.Wrap(domain.KindInternal, "list expired archives", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			ids = append(ids, id)
		}
	}
	rows.Close()

	purged := 0
	for _, id := range ids {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			continue
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM memory_items WHERE id = ? AND user_id = ?", id, userID); err != nil {
			tx.Rollback()
			continue
		}
		if s.vectorExt {
			_ = deleteVecEntry(tx, id)
		}
		if err := tx.Commit(); err == nil {
			purged++
		}
	}
	return purged, nil
}

// RecordOutcome appends an outcome event to an item's log, trimming to
// domain.MaxOutcomeLogLen by evicting the oldest entries.
func (s *Store) RecordOutcome(ctx context.Context, userID, itemID string, ev domain.OutcomeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "begin outcome tx", err)
	}
	defer tx.Rollback()

	var outcomeJSON sql.NullString
	row := tx.QueryRowContext(ctx, "SELECT outcome_log FROM memory_items WHERE id = ? AND user_id = ?", itemID, userID)
	if err := row.Scan(&outcomeJSON); err != nil {
		if err == sql.ErrNoRows {
			return domain.New(domain.KindNotFound, "memory item not found")
		}
		return domain.Wrap(domain.KindInternal, "read outcome log", err)
	}

	var log []domain.OutcomeEvent
	if outcomeJSON.Valid && outcomeJSON.String != "" {
		_ = json.Unmarshal([]byte(outcomeJSON.String), &log)
	}
	log = append(log, ev)
	if len(log) > domain.MaxOutcomeLogLen {
		log = log[len(log)-domain.MaxOutcomeLogLen:]
	}
	newJSON, err := json.Marshal(log)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "marshal outcome log", err)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE memory_items SET outcome_log = ?, version = version + 1 WHERE id = ? AND user_id = ?",
		string(newJSON), itemID, userID,
	)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "write outcome log", err)
	}
	if err := requireSingleRowAffected(res); err != nil {
		return err
	}
	return commitOrWrap(tx)
}

// IncrementAccess bumps access_count and last_used_at; used on every
// successful retrieval hit (feeds the CRS recurrence term).
func (s *Store) IncrementAccess(ctx context.Context, userID, itemID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE memory_items SET access_count = access_count + 1, last_used_at = ?, version = version + 1
		 WHERE id = ? AND user_id = ?`,
		at, itemID, userID,
	)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "increment access", err)
	}
	return requireSingleRowAffected(res)
}

// ConsolidateTransaction atomically inserts a newly summarized item and
// archives its source items, so a crash never leaves both the sources and
// the consolidated item live (or both gone) — spec.md §5 consolidation
// atomicity.
func (s *Store) ConsolidateTransaction(ctx context.Context, newItem *domain.MemoryItem, newVec []float32, sourceIDs []string, at time.Time, ev domain.ConsolidationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if newItem.Version == 0 {
		newItem.Version = 1
	}
	if newItem.SchemaVersion == 0 {
		newItem.SchemaVersion = domain.CurrentSchemaVersion
	}

	piiJSON, outcomeJSON, sourceJSON, err := marshalItemSidecars(newItem)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "begin consolidate tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memory_items (
			id, user_id, topic_id, encrypted_content, encrypted_vector, vector_dimensions,
			tier, retention_score, created_at, last_used_at, access_count,
			pii_flags, outcome_log, archived, archived_at, pinned, source_items,
			key_id, schema_version, version, quarantined
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		newItem.ID, newItem.UserID, newItem.TopicID, newItem.EncryptedContent, nullBlob(newItem.EncryptedVector), newItem.VectorDimensions,
		string(newItem.Tier), newItem.RetentionScore, newItem.CreatedAt, newItem.LastUsedAt, newItem.AccessCount,
		piiJSON, outcomeJSON, boolToInt(newItem.Archived), nullTime(newItem.ArchivedAt), boolToInt(newItem.Pinned), sourceJSON,
		newItem.KeyID, newItem.SchemaVersion, newItem.Version, boolToInt(newItem.Quarantined),
	)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "insert consolidated item", err)
	}
	if s.vectorExt && newVec != nil {
		if err := upsertVecEntry(tx, newItem.ID, newItem.UserID, newItem.TopicID, newItem.Tier, newItem.RetentionScore, newVec); err != nil {
			return domain.Wrap(domain.KindInternal, "index consolidated vector", err)
		}
	}

	for _, id := range sourceIDs {
		if _, err := tx.ExecContext(ctx,
			"UPDATE memory_items SET archived = 1, archived_at = ?, version = version + 1 WHERE id = ? AND user_id = ?",
			at, id, newItem.UserID,
		); err != nil {
			return domain.Wrap(domain.KindInternal, "archive source item", err)
		}
	}

	evJSON, err := json.Marshal(ev.ConsolidatedItemIDs)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "marshal consolidation ids", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO consolidation_events (id, user_id, source_tier, target_tier, source_count, consolidated_item_ids, duration_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.UserID, string(ev.SourceTier), string(ev.TargetTier), ev.SourceCount, string(evJSON), ev.Duration.Milliseconds(), ev.Timestamp,
	); err != nil {
		return domain.Wrap(domain.KindInternal, "record consolidation event", err)
	}

	return commitOrWrap(tx)
}

// AppendAuditEvent writes one immutable audit record (spec.md §7).
func (s *Store) AppendAuditEvent(ctx context.Context, ev domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metaJSON, err := json.Marshal(ev.Metadata)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "marshal audit metadata", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, user_id, action, resource_id, metadata, client_ip, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.UserID, string(ev.Action), ev.ResourceID, string(metaJSON), ev.ClientIP, ev.Timestamp,
	)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "append audit event", err)
	}
	return nil
}

// ListAuditEvents returns a user's audit trail since the given time, newest first.
func (s *Store) ListAuditEvents(ctx context.Context, userID string, since time.Time, limit int) ([]domain.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, action, resource_id, metadata, client_ip, timestamp
		FROM audit_events WHERE user_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC LIMIT ?`,
		userID, since, limit,
	)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "list audit events", err)
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var ev domain.AuditEvent
		var action string
		var resourceID, clientIP sql.NullString
		var metaJSON string
		if err := rows.Scan(&ev.ID, &ev.UserID, &action, &resourceID, &metaJSON, &clientIP, &ev.Timestamp); err != nil {
			continue
		}
		ev.Action = domain.AuditAction(action)
		ev.ResourceID = resourceID.String
		ev.ClientIP = clientIP.String
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &ev.Metadata)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// RecordQueryLog persists a rehydration call's fingerprint without ever
// storing the query text itself (spec.md §3).
func (s *Store) RecordQueryLog(ctx context.Context, ql domain.QueryLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	itemsJSON, err := json.Marshal(ql.ItemIDsUsed)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "marshal query log items", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO query_logs (id, user_id, query_content_hash, item_ids_used, response_hash, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ql.ID, ql.UserID, ql.QueryContentHash, string(itemsJSON), ql.ResponseHash, ql.Timestamp,
	)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "record query log", err)
	}
	return nil
}

// GetQueryLog looks up a previously recorded query log by id, used by
// internal/outcome to resolve which items an outcome event applies to
// (spec.md §3 "record_outcome" links back to a prior query's item set).
func (s *Store) GetQueryLog(ctx context.Context, userID, queryID string) (*domain.QueryLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ql domain.QueryLog
	var itemsJSON string
	var responseHash sql.NullString
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, query_content_hash, item_ids_used, response_hash, timestamp
		FROM query_logs WHERE id = ? AND user_id = ?`, queryID, userID)
	if err := row.Scan(&ql.ID, &ql.UserID, &ql.QueryContentHash, &itemsJSON, &responseHash, &ql.Timestamp); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.New(domain.KindNotFound, "query log not found")
		}
		return nil, domain.Wrap(domain.KindInternal, "read query log", err)
	}
	if err := json.Unmarshal([]byte(itemsJSON), &ql.ItemIDsUsed); err != nil {
		return nil, domain.Wrap(domain.KindInternal, "unmarshal query log items", err)
	}
	ql.ResponseHash = responseHash.String
	return &ql, nil
}

// ListByTier returns every non-archived item of a user's tier, used by the
// tier manager's batch evaluation sweep (spec.md §4.4 evaluate_transitions).
func (s *Store) ListByTier(ctx context.Context, userID string, tier domain.Tier) ([]*domain.MemoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		selectColumns+" FROM memory_items WHERE user_id = ? AND tier = ? AND archived = 0",
		userID, string(tier),
	)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "list by tier", err)
	}
	defer rows.Close()

	var out []*domain.MemoryItem
	for rows.Next() {
		item, err := scanMemoryItem(rows)
		if err != nil {
			continue
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ListForUser returns every item belonging to userID, optionally restricted
// to one topic, including archived and quarantined items. It exists for
// erasure/export orchestration (internal/policy), which must account for
// every record regardless of retrieval eligibility, unlike Search.
func (s *Store) ListForUser(ctx context.Context, userID, topicID string) ([]*domain.MemoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := selectColumns + " FROM memory_items WHERE user_id = ?"
	args := []interface{}{userID}
	if topicID != "" {
		query += " AND topic_id = ?"
		args = append(args, topicID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "list for user", err)
	}
	defer rows.Close()

	var out []*domain.MemoryItem
	for rows.Next() {
		item, err := scanMemoryItem(rows)
		if err != nil {
			continue
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ListTopics returns the distinct topic ids a user has non-archived items
// in, used by internal/scheduler's key-rotation job to find which topic
// key rings are actually in use.
func (s *Store) ListTopics(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT topic_id FROM memory_items WHERE user_id = ? AND archived = 0", userID)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "list topics", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var topicID string
		if err := rows.Scan(&topicID); err != nil {
			continue
		}
		out = append(out, topicID)
	}
	return out, rows.Err()
}

func insertTierTransition(ctx context.Context, tx *sql.Tx, ev domain.TierTransitionEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tier_transitions (id, item_id, user_id, from_tier, to_tier, score, reason, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.ItemID, ev.UserID, string(ev.FromTier), string(ev.ToTier), ev.Score, string(ev.Reason), ev.Timestamp,
	)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "record tier transition", err)
	}
	return nil
}

func commitOrWrap(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return domain.Wrap(domain.KindInternal, "commit transaction", err)
	}
	return nil
}

func requireSingleRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Wrap(domain.KindInternal, "check rows affected", err)
	}
	if n == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func matchesTopicFilter(topicID string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == topicID {
			return true
		}
	}
	return false
}

func matchesTierFilter(tier domain.Tier, allowed []domain.Tier) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == tier {
			return true
		}
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullBlob(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func isUniqueConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

