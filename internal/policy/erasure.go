package policy

import (
	"context"
	"encoding/json"
	"time"

	"acms/internal/domain"
	"acms/internal/logging"
)

// ItemStore is the narrow slice of store.Store erasure/export orchestration
// needs, kept local so this package never imports internal/store.
type ItemStore interface {
	ListForUser(ctx context.Context, userID, topicID string) ([]*domain.MemoryItem, error)
	Archive(ctx context.Context, userID, itemID string, at time.Time) error
	Erase(ctx context.Context, userID, itemID string) error
	AppendAuditEvent(ctx context.Context, ev domain.AuditEvent) error
	ListAuditEvents(ctx context.Context, userID string, since time.Time, limit int) ([]domain.AuditEvent, error)
}

// KeyManager is the narrow slice of crypto.Manager erasure/export
// orchestration needs.
type KeyManager interface {
	Decrypt(blob []byte, keyID string) ([]byte, error)
	DestroyTopicKeys(topicID string) error
}

// Sealer seals a plaintext bundle to a recipient's public key (implemented
// by crypto.SealForRecipient).
type Sealer interface {
	SealForRecipient(plaintext []byte, recipientPublicKey *[32]byte) ([]byte, error)
}

// EraseResult reports what an erasure pass did.
type EraseResult struct {
	ItemsErased  int
	TopicsPurged []string
}

// EraseUser implements spec.md §4.4 erasure: archive matching items, destroy
// their topic's keys, remove records, then emit a deletion event. Erasure is
// irreversible. If topicID is empty, every topic the user has items in is
// purged.
//
// Destroying a topic's keys affects every record under that topic id across
// the whole keyring (internal/crypto has no per-user key partition — see
// DESIGN.md "per-user store" note); this orchestration is only safe to call
// against a store/keyring instance scoped to a single local user, which is
// the deployment model spec.md §1 describes ("local-first, per-user").
func EraseUser(ctx context.Context, store ItemStore, keys KeyManager, userID, topicID string) (EraseResult, error) {
	items, err := store.ListForUser(ctx, userID, topicID)
	if err != nil {
		return EraseResult{}, err
	}

	now := time.Now()
	topics := make(map[string]bool)
	for _, item := range items {
		topics[item.TopicID] = true
		if !item.Archived {
			if err := store.Archive(ctx, userID, item.ID, now); err != nil {
				return EraseResult{}, domain.Wrap(domain.KindInternal, "archive before erase", err)
			}
		}
	}

	var purged []string
	for topic := range topics {
		if err := keys.DestroyTopicKeys(topic); err != nil {
			return EraseResult{}, err
		}
		purged = append(purged, topic)
	}

	erased := 0
	for _, item := range items {
		if err := store.Erase(ctx, userID, item.ID); err != nil {
			return EraseResult{}, domain.Wrap(domain.KindInternal, "erase item record", err)
		}
		erased++
	}

	ev := domain.AuditEvent{
		ID:     auditID(userID, topicID, now),
		UserID: userID,
		Action: domain.AuditDelete,
		Metadata: map[string]interface{}{
			"topic_id":      topicID,
			"items_erased":  erased,
			"topics_purged": purged,
		},
		Timestamp: now,
	}
	if err := store.AppendAuditEvent(ctx, ev); err != nil {
		logging.PolicyDebug("erase user=%s: audit event append failed: %v", userID, err)
	}

	logging.Policy("erased user=%s topic=%q items=%d topics=%v", userID, topicID, erased, purged)
	return EraseResult{ItemsErased: erased, TopicsPurged: purged}, nil
}

// ExportBundle is the self-describing export document of spec.md §6.
type ExportBundle struct {
	ExportID    string              `json:"export_id"`
	UserID      string              `json:"user_id"`
	GeneratedAt time.Time           `json:"generated_at"`
	Version     int                 `json:"version"`
	Items       []ExportedItem      `json:"items"`
	AuditTrail  []domain.AuditEvent `json:"audit_trail"`
	Readme      string              `json:"readme"`
}

// ExportedItem is one memory item in plaintext form, for export only.
type ExportedItem struct {
	ID          string               `json:"id"`
	Text        string               `json:"text"`
	Vector      []float32            `json:"vector,omitempty"`
	TopicID     string               `json:"topic_id"`
	Tier        domain.Tier          `json:"tier"`
	Score       float64              `json:"score"`
	CreatedAt   time.Time            `json:"created_at"`
	LastUsedAt  time.Time            `json:"last_used_at"`
	AccessCount int64                `json:"access_count"`
	OutcomeLog  []domain.OutcomeEvent `json:"outcome_log,omitempty"`
}

const exportBundleVersion = 1

// maxExportAuditEvents bounds the audit trail included in an export bundle.
// spec.md §6 doesn't cap it; this keeps a single export bounded in practice.
const maxExportAuditEvents = 100000

const exportReadme = `This bundle is a self-describing export of one user's ACMS memory.
"items" holds plaintext memory content decrypted at export time; "audit_trail"
is the user's append-only activity log. The bundle itself is sealed to the
requesting user's public key — anyone without the matching private key
cannot read it even though the fields inside are plaintext.`

// ExportUser implements spec.md §4.4/§6 export: gathers every item for the
// user (optionally scoped to one topic), decrypts content and vectors,
// assembles a self-describing bundle alongside the audit trail, marshals it
// to JSON, and seals it to the user's public key. The returned bytes are the
// opaque download payload.
func ExportUser(ctx context.Context, store ItemStore, keys KeyManager, sealer Sealer, userID, topicID string, recipientPublicKey *[32]byte) ([]byte, error) {
	items, err := store.ListForUser(ctx, userID, topicID)
	if err != nil {
		return nil, err
	}

	exported := make([]ExportedItem, 0, len(items))
	for _, item := range items {
		plaintext, err := keys.Decrypt(item.EncryptedContent, item.KeyID)
		if err != nil {
			logging.PolicyDebug("export user=%s item=%s: decrypt failed, excluded from bundle: %v", userID, item.ID, err)
			continue
		}
		exported = append(exported, ExportedItem{
			ID: item.ID, Text: string(plaintext), TopicID: item.TopicID, Tier: item.Tier,
			Score: item.RetentionScore, CreatedAt: item.CreatedAt, LastUsedAt: item.LastUsedAt,
			AccessCount: item.AccessCount, OutcomeLog: item.OutcomeLog,
		})
	}

	audit, err := store.ListAuditEvents(ctx, userID, time.Time{}, maxExportAuditEvents)
	if err != nil {
		logging.PolicyDebug("export user=%s: audit trail fetch failed: %v", userID, err)
	}

	now := time.Now()
	bundle := ExportBundle{
		ExportID: auditID(userID, topicID, now), UserID: userID, GeneratedAt: now,
		Version: exportBundleVersion, Items: exported, AuditTrail: audit, Readme: exportReadme,
	}

	raw, err := json.Marshal(bundle)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "marshal export bundle", err)
	}

	sealed, err := sealer.SealForRecipient(raw, recipientPublicKey)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "seal export bundle", err)
	}

	exportEvent := domain.AuditEvent{
		ID: bundle.ExportID, UserID: userID, Action: domain.AuditExport,
		Metadata: map[string]interface{}{"topic_id": topicID, "items_exported": len(exported)},
		Timestamp: now,
	}
	if err := store.AppendAuditEvent(ctx, exportEvent); err != nil {
		logging.PolicyDebug("export user=%s: audit event append failed: %v", userID, err)
	}

	logging.Policy("exported user=%s topic=%q items=%d", userID, topicID, len(exported))
	return sealed, nil
}
