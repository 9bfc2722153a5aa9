package boundary

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"acms/internal/crypto"
	"acms/internal/domain"
	"acms/internal/embedding"
	"acms/internal/logging"
	"acms/internal/policy"

	"github.com/google/uuid"
)

// exportHandleTTL is spec.md §6 export_memory's "handle expires in 24 h".
const exportHandleTTL = 24 * time.Hour

// ErasureStore is the narrow slice of internal/store.Store that
// delete_all_memory/export_memory need beyond ItemStore, kept separate so
// ItemStore itself doesn't grow interfaces only these two operations use.
type ErasureStore interface {
	policy.ItemStore
}

// KeySealer is the narrow slice of internal/crypto.Manager export/erasure
// orchestration needs: policy.KeyManager/Sealer for the export/erase path,
// plus EncryptForItem for ImportBundle's re-encryption of reinserted items.
type KeySealer interface {
	policy.KeyManager
	policy.Sealer
	EncryptForItem(plaintext []byte, topicID string) (data []byte, keyID string, err error)
}

type exportHandle struct {
	bundle    []byte
	expiresAt time.Time
}

// handleRegistry tracks in-flight export bundles by opaque handle, pruning
// expired entries lazily on lookup rather than running a background sweep —
// this process is the only reader, and an export nobody ever downloads
// within 24h is simply forgotten.
type handleRegistry struct {
	mu      sync.Mutex
	handles map[string]exportHandle
}

func newHandleRegistry() *handleRegistry {
	return &handleRegistry{handles: make(map[string]exportHandle)}
}

func (r *handleRegistry) put(bundle []byte, ttl time.Duration) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle := uuid.NewString()
	r.handles[handle] = exportHandle{bundle: bundle, expiresAt: time.Now().Add(ttl)}
	return handle
}

func (r *handleRegistry) get(handle string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[handle]
	if !ok {
		return nil, false
	}
	if time.Now().After(h.expiresAt) {
		delete(r.handles, handle)
		return nil, false
	}
	return h.bundle, true
}

// ExportCore wires the export/import/delete_all operations, kept as a
// separate struct from Core so a deployment that never offers export (e.g.
// an embedded library use case with no public-key custody yet) doesn't have
// to construct a Sealer just to use ingest/query.
type ExportCore struct {
	store    ErasureStore
	keys     KeySealer
	embedder embedding.EmbeddingEngine
	handles  *handleRegistry
	limits   *limiter
}

func NewExportCore(store ErasureStore, keys KeySealer, embedder embedding.EmbeddingEngine, limits *limiter) *ExportCore {
	return &ExportCore{store: store, keys: keys, embedder: embedder, handles: newHandleRegistry(), limits: limits}
}

// ExportMemory implements spec.md §6 export_memory: seals a bundle to the
// user's public key and returns an opaque handle valid for 24h.
func (e *ExportCore) ExportMemory(ctx context.Context, userID, topicID string, recipientPublicKey *[32]byte) (string, error) {
	if e.limits != nil && !e.limits.AllowExport(userID) {
		return "", domain.New(domain.KindRateLimited, "export rate limit exceeded")
	}

	sealed, err := policy.ExportUser(ctx, e.store, e.keys, e.keys, userID, topicID, recipientPublicKey)
	if err != nil {
		return "", err
	}

	handle := e.handles.put(sealed, exportHandleTTL)
	logging.Boundary("export_memory user=%s topic=%q handle=%s expires_in=%s", userID, topicID, handle, exportHandleTTL)
	return handle, nil
}

// DownloadExport returns the sealed bundle for a handle previously returned
// by ExportMemory, or domain.KindNotFound if the handle is unknown or has
// expired.
func (e *ExportCore) DownloadExport(handle string) ([]byte, error) {
	bundle, ok := e.handles.get(handle)
	if !ok {
		return nil, domain.New(domain.KindNotFound, "export handle not found or expired")
	}
	return bundle, nil
}

// ImportBundle reverses ExportMemory: opens a bundle sealed to the given
// keypair and re-ingests every item, re-embedding and re-encrypting under
// the importing store's own current topic keys (an import never reuses the
// exporting store's key material — spec.md §4.1 key custody is per
// deployment, not portable). This is not a normative spec.md §6 operation;
// SPEC_FULL.md adds it as export's necessary round-trip counterpart
// (testable property 8).
func (e *ExportCore) ImportBundle(ctx context.Context, sealed []byte, publicKey, privateKey *[32]byte, userID string, insert func(ctx context.Context, item *domain.MemoryItem, vec []float32) error) (int, error) {
	raw, err := openSealed(sealed, publicKey, privateKey)
	if err != nil {
		return 0, domain.Wrap(domain.KindIntegrityFailure, "open import bundle", err)
	}

	var bundle policy.ExportBundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return 0, domain.Wrap(domain.KindValidation, "parse import bundle", err)
	}

	imported := 0
	for _, item := range bundle.Items {
		vec, err := e.embedder.Embed(ctx, item.Text)
		if err != nil {
			logging.BoundaryDebug("import item %s: embed failed, skipped: %v", item.ID, err)
			continue
		}
		encContent, keyID, err := e.keys.EncryptForItem([]byte(item.Text), item.TopicID)
		if err != nil {
			logging.BoundaryDebug("import item %s: encrypt failed, skipped: %v", item.ID, err)
			continue
		}
		encVec, _, err := e.keys.EncryptForItem(embedding.EncodeVector(vec), item.TopicID)
		if err != nil {
			continue
		}

		newItem := &domain.MemoryItem{
			ID: uuid.NewString(), UserID: userID, TopicID: item.TopicID,
			EncryptedContent: encContent, EncryptedVector: encVec, VectorDimensions: len(vec),
			Tier: item.Tier, RetentionScore: item.Score, CreatedAt: item.CreatedAt, LastUsedAt: item.LastUsedAt,
			AccessCount: item.AccessCount, OutcomeLog: item.OutcomeLog,
			KeyID: keyID, SchemaVersion: domain.CurrentSchemaVersion, Version: 1,
		}
		if err := insert(ctx, newItem, vec); err != nil {
			logging.BoundaryDebug("import item %s: insert failed, skipped: %v", item.ID, err)
			continue
		}
		imported++
	}

	logging.Boundary("import_bundle user=%s items_imported=%d/%d", userID, imported, len(bundle.Items))
	return imported, nil
}

// DeleteAllMemory implements spec.md §6 delete_all_memory.
func (e *ExportCore) DeleteAllMemory(ctx context.Context, userID, topicID string) (policy.EraseResult, error) {
	return policy.EraseUser(ctx, e.store, e.keys, userID, topicID)
}

// openSealed is a package-level indirection over crypto.OpenSealed, kept as
// a var so tests can swap it out without sealing a real bundle for every
// ImportBundle case.
var openSealed = crypto.OpenSealed
