package store

import (
	"database/sql"
	"encoding/json"

	"acms/internal/domain"
)

const selectColumns = `SELECT
	id, user_id, topic_id, encrypted_content, encrypted_vector, vector_dimensions,
	tier, retention_score, created_at, last_used_at, access_count,
	pii_flags, outcome_log, archived, archived_at, pinned, source_items,
	key_id, schema_version, version, quarantined`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func marshalItemSidecars(item *domain.MemoryItem) (piiJSON, outcomeJSON, sourceJSON string, err error) {
	pii, err := json.Marshal(item.PIIFlags)
	if err != nil {
		return "", "", "", domain.Wrap(domain.KindInternal, "marshal pii flags", err)
	}
	outcome, err := json.Marshal(item.OutcomeLog)
	if err != nil {
		return "", "", "", domain.Wrap(domain.KindInternal, "marshal outcome log", err)
	}
	source, err := json.Marshal(item.SourceItems)
	if err != nil {
		return "", "", "", domain.Wrap(domain.KindInternal, "marshal source items", err)
	}
	return string(pii), string(outcome), string(source), nil
}

func scanMemoryItem(r rowScanner) (*domain.MemoryItem, error) {
	var item domain.MemoryItem
	var tier, keyID string
	var piiJSON, outcomeJSON, sourceJSON sql.NullString
	var archived, pinned, quarantined int
	var archivedAt sql.NullTime
	var encryptedVector []byte

	err := r.Scan(
		&item.ID, &item.UserID, &item.TopicID, &item.EncryptedContent, &encryptedVector, &item.VectorDimensions,
		&tier, &item.RetentionScore, &item.CreatedAt, &item.LastUsedAt, &item.AccessCount,
		&piiJSON, &outcomeJSON, &archived, &archivedAt, &pinned, &sourceJSON,
		&keyID, &item.SchemaVersion, &item.Version, &quarantined,
	)
	if err != nil {
		return nil, err
	}

	item.Tier = domain.Tier(tier)
	item.KeyID = keyID
	item.EncryptedVector = encryptedVector
	item.Archived = archived != 0
	item.Pinned = pinned != 0
	item.Quarantined = quarantined != 0
	if archivedAt.Valid {
		item.ArchivedAt = archivedAt.Time
	}

	if piiJSON.Valid && piiJSON.String != "" && piiJSON.String != "null" {
		if err := json.Unmarshal([]byte(piiJSON.String), &item.PIIFlags); err != nil {
			return nil, domain.Wrap(domain.KindInternal, "unmarshal pii flags", err)
		}
	}
	if outcomeJSON.Valid && outcomeJSON.String != "" && outcomeJSON.String != "null" {
		if err := json.Unmarshal([]byte(outcomeJSON.String), &item.OutcomeLog); err != nil {
			return nil, domain.Wrap(domain.KindInternal, "unmarshal outcome log", err)
		}
	}
	if sourceJSON.Valid && sourceJSON.String != "" && sourceJSON.String != "null" {
		if err := json.Unmarshal([]byte(sourceJSON.String), &item.SourceItems); err != nil {
			return nil, domain.Wrap(domain.KindInternal, "unmarshal source items", err)
		}
	}

	return &item, nil
}
