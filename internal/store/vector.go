package store

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"fmt"

	"acms/internal/domain"
	"acms/internal/logging"
)

// encodeFloat32Slice packs a vector into sqlite-vec's little-endian float32
// blob wire format.
func encodeFloat32Slice(vec []float32) []byte {
	buf := &bytes.Buffer{}
	buf.Grow(len(vec) * 4)
	_ = binary.Write(buf, binary.LittleEndian, vec)
	return buf.Bytes()
}

// execQueryer is satisfied by both *sql.DB and *sql.Tx, so the vec_index
// helpers below can run either as standalone statements or as part of a
// caller's transaction (needed so an item's row and its vec_index entry
// always commit or roll back together).
type execQueryer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

// initVecIndex creates the vec0 virtual table sized to dims. This package
// does not register the sqlite-vec extension itself, so creation succeeds
// only where the SQLite build already provides vec0; otherwise it fails
// harmlessly and Search falls back to an unranked table scan
// (bruteForceSearch).
func initVecIndex(db *sql.DB, dims int) bool {
	if dims <= 0 {
		return false
	}
	stmt := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vec_index USING vec0(
			embedding       float[%d],
			item_id         TEXT,
			user_id         TEXT,
			topic_id        TEXT,
			tier            TEXT,
			retention_score FLOAT
		)`, dims)
	if _, err := db.Exec(stmt); err != nil {
		logging.Get(logging.CategoryStore).Warn("sqlite-vec unavailable, falling back to brute-force scan: %v", err)
		return false
	}
	return true
}

func upsertVecEntry(db execQueryer, itemID, userID, topicID string, tier domain.Tier, retentionScore float64, vec []float32) error {
	if _, err := db.Exec("DELETE FROM vec_index WHERE item_id = ?", itemID); err != nil {
		return err
	}
	_, err := db.Exec(
		"INSERT INTO vec_index (embedding, item_id, user_id, topic_id, tier, retention_score) VALUES (?, ?, ?, ?, ?, ?)",
		encodeFloat32Slice(vec), itemID, userID, topicID, string(tier), retentionScore,
	)
	return err
}

func deleteVecEntry(db execQueryer, itemID string) error {
	_, err := db.Exec("DELETE FROM vec_index WHERE item_id = ?", itemID)
	return err
}

// vecCandidate is one ANN hit: the item id and its cosine distance to query.
type vecCandidate struct {
	ItemID   string
	Distance float64
}

// SearchFilter and ScoredItem are aliases of the domain package's types of
// the same name: the fields moved to domain so internal/rehydrate's narrow
// ItemStore interface can describe Store.Search's signature structurally
// without importing internal/store (see domain/types.go).
type SearchFilter = domain.SearchFilter
type ScoredItem = domain.ScoredItem

func searchVecIndex(db execQueryer, filter SearchFilter, queryVec []float32) ([]vecCandidate, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	where := []string{"user_id = ?"}
	args := []interface{}{encodeFloat32Slice(queryVec), filter.UserID}

	if len(filter.TopicIDs) > 0 {
		placeholders := make([]byte, 0, len(filter.TopicIDs)*2)
		for i, t := range filter.TopicIDs {
			if i > 0 {
				placeholders = append(placeholders, ',')
			}
			placeholders = append(placeholders, '?')
			args = append(args, t)
		}
		where = append(where, fmt.Sprintf("topic_id IN (%s)", string(placeholders)))
	}
	if len(filter.Tiers) > 0 {
		placeholders := make([]byte, 0, len(filter.Tiers)*2)
		for i, t := range filter.Tiers {
			if i > 0 {
				placeholders = append(placeholders, ',')
			}
			placeholders = append(placeholders, '?')
			args = append(args, string(t))
		}
		where = append(where, fmt.Sprintf("tier IN (%s)", string(placeholders)))
	}
	if filter.MinScore > 0 {
		where = append(where, "retention_score >= ?")
		args = append(args, filter.MinScore)
	}

	query := fmt.Sprintf(
		`SELECT item_id, vec_distance_cosine(embedding, ?) AS dist
		 FROM vec_index
		 WHERE %s
		 ORDER BY dist ASC
		 LIMIT ?`,
		joinAnd(where),
	)
	args = append(args, filter.Limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vecCandidate
	for rows.Next() {
		var c vecCandidate
		if err := rows.Scan(&c.ItemID, &c.Distance); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func joinAnd(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}
