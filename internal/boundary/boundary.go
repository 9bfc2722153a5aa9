// Package boundary implements the typed operation set of spec.md §4.9/§6:
// validating inputs, applying per-user rate limits, translating to/from the
// internal error taxonomy of §7, and delegating to the core packages. It
// does no business logic of its own — every operation here is a thin
// wrapper around internal/store, internal/crypto, internal/policy,
// internal/rehydrate, and internal/outcome.
package boundary

import (
	"context"
	"strconv"
	"strings"
	"time"

	"acms/internal/crs"
	"acms/internal/crypto"
	"acms/internal/domain"
	"acms/internal/embedding"
	"acms/internal/logging"
	"acms/internal/outcome"
	"acms/internal/policy"
	"acms/internal/rehydrate"

	"github.com/google/uuid"
)

// ItemStore is the narrow slice of internal/store.Store the boundary needs
// for the item-CRUD operations (ingest/get/list/edit/delete/pin), following
// the same local-interface convention as every other core package.
type ItemStore interface {
	Insert(ctx context.Context, item *domain.MemoryItem, vec []float32) error
	Get(ctx context.Context, userID, itemID string) (*domain.MemoryItem, error)
	ListForUser(ctx context.Context, userID, topicID string) ([]*domain.MemoryItem, error)
	Update(ctx context.Context, userID, itemID string, edit ItemEdit, at time.Time, expectedVersion int64) error
	Archive(ctx context.Context, userID, itemID string, at time.Time) error
	AppendAuditEvent(ctx context.Context, ev domain.AuditEvent) error
}

// ItemEdit mirrors internal/store.ItemEdit so this package's ItemStore
// interface doesn't force importing internal/store's concrete type graph
// any further than this one shape.
type ItemEdit struct {
	EncryptedContent []byte
	Vector           []float32
	KeyID            string
	Pinned           *bool
}

// KeyManager is the narrow slice of internal/crypto.Manager the boundary
// needs for content/vector encryption on ingest and edit.
type KeyManager interface {
	EncryptForItem(plaintext []byte, topicID string) (data []byte, keyID string, err error)
	Decrypt(blob []byte, keyID string) ([]byte, error)
	CurrentVersion(topicID string) (crypto.KeyVersion, error)
}

// Core wires the boundary adapter to the concrete core components. Every
// field is a narrow interface so this package can be tested against fakes
// without a real SQLite store or key manager.
type Core struct {
	store      ItemStore
	keys       KeyManager
	embedder   embedding.EmbeddingEngine
	pipeline   *rehydrate.Pipeline
	outcomes   *outcome.Logger
	consent    *policy.ConsentLedger
	limits     *limiter
	concurrency *concurrencyGate
	riskWeights map[domain.PIIKind]float64
	defaultTokenBudget int
}

// WithConcurrencyLimit replaces Core's default rehydration backpressure gate
// (spec.md §5 "Backpressure") with one sized from internal/config's
// `rehydration.max_concurrent_queries`/`rehydration.max_queue_depth` surface.
func (c *Core) WithConcurrencyLimit(maxConcurrent, maxQueueDepth int) *Core {
	c.concurrency = newConcurrencyGate(maxConcurrent, maxQueueDepth)
	return c
}

// WithDefaultTokenBudget sets the token budget Query applies when a caller
// omits TokenBudget (spec.md §6 configuration surface
// "rehydration.token_budget.default"). Zero (the unconfigured default)
// means callers must always supply one.
func (c *Core) WithDefaultTokenBudget(n int) *Core {
	c.defaultTokenBudget = n
	return c
}

// WithRateLimits replaces Core's default per-user rate limiter with one
// built from internal/config's `rate_limits.*` surface. Limiter() returns
// the new limiter afterwards, so an ExportCore constructed alongside Core
// can share it.
func (c *Core) WithRateLimits(ingestsPerMinute, queriesPerMinute, exportsPerDay int) *Core {
	c.limits = newLimiterWithRates(ingestsPerMinute, queriesPerMinute, exportsPerDay)
	return c
}

// NewCore constructs a Core. riskWeights defaults to policy.DefaultRiskWeights
// when nil.
func NewCore(store ItemStore, keys KeyManager, embedder embedding.EmbeddingEngine, pipeline *rehydrate.Pipeline, outcomes *outcome.Logger, consent *policy.ConsentLedger, riskWeights map[domain.PIIKind]float64) *Core {
	if riskWeights == nil {
		riskWeights = policy.DefaultRiskWeights()
	}
	return &Core{
		store: store, keys: keys, embedder: embedder, pipeline: pipeline,
		outcomes: outcomes, consent: consent, limits: newLimiter(),
		concurrency: newConcurrencyGate(defaultMaxConcurrentQueries, defaultMaxQueuedQueries),
		riskWeights: riskWeights,
	}
}

// IngestMemoryRequest is the input of spec.md §6's ingest_memory.
type IngestMemoryRequest struct {
	UserID   string
	TopicID  string
	Text     string
	Metadata map[string]interface{}
}

// IngestMemoryResult is ingest_memory's output.
type IngestMemoryResult struct {
	ItemID        string
	Tier          domain.Tier
	InitialScore  float64
}

// IngestMemory implements spec.md §6 ingest_memory: validates input,
// enforces the per-user ingest rate limit, detects PII, embeds, encrypts,
// and inserts a new SHORT-tier item, scored by internal/crs.Compute against
// a fresh (zero-access, zero-outcome) item and an empty profile, so the
// similarity and outcome terms take their neutral values and the initial
// score differs between new items only by their PII penalty.
func (c *Core) IngestMemory(ctx context.Context, req IngestMemoryRequest) (IngestMemoryResult, error) {
	if err := validateTopicID(req.TopicID); err != nil {
		return IngestMemoryResult{}, err
	}
	if err := validateText(req.Text, maxIngestTextLen); err != nil {
		return IngestMemoryResult{}, err
	}
	if !c.limits.AllowIngest(req.UserID) {
		return IngestMemoryResult{}, domain.New(domain.KindRateLimited, "ingest rate limit exceeded")
	}

	flags := policy.Detect(req.Text)
	risk := policy.RiskScore(flags, c.riskWeights)

	vec, err := c.embedder.Embed(ctx, req.Text)
	if err != nil {
		return IngestMemoryResult{}, domain.Wrap(domain.KindBackendUnavailable, "embed ingested text", err).WithBackend(c.embedder.Name())
	}

	encContent, keyID, err := c.keys.EncryptForItem([]byte(req.Text), req.TopicID)
	if err != nil {
		return IngestMemoryResult{}, err
	}
	encVec, _, err := c.keys.EncryptForItem(embedding.EncodeVector(vec), req.TopicID)
	if err != nil {
		return IngestMemoryResult{}, err
	}

	now := time.Now()
	item := &domain.MemoryItem{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		TopicID:          req.TopicID,
		EncryptedContent: encContent,
		EncryptedVector:  encVec,
		VectorDimensions: len(vec),
		Tier:             domain.TierShort,
		CreatedAt:        now,
		LastUsedAt:       now,
		PIIFlags:         flags,
		KeyID:            keyID,
		SchemaVersion:    domain.CurrentSchemaVersion,
		Version:          1,
	}

	score, err := crs.Compute(item, vec, &domain.UserProfile{UserID: req.UserID}, now)
	if err != nil {
		return IngestMemoryResult{}, err
	}
	item.RetentionScore = score

	if err := c.store.Insert(ctx, item, vec); err != nil {
		return IngestMemoryResult{}, err
	}

	c.audit(ctx, req.UserID, domain.AuditWrite, item.ID, map[string]interface{}{"op": "ingest_memory", "pii_flags": len(flags), "risk_score": risk})
	logging.Boundary("ingest_memory user=%s item=%s topic=%s risk_score=%.2f", req.UserID, item.ID, req.TopicID, risk)
	return IngestMemoryResult{ItemID: item.ID, Tier: item.Tier, InitialScore: score}, nil
}

// GetMemory implements spec.md §6 get_memory: fetches and decrypts one item.
func (c *Core) GetMemory(ctx context.Context, userID, itemID string) (*domain.MemoryItem, string, error) {
	item, err := c.store.Get(ctx, userID, itemID)
	if err != nil {
		return nil, "", err
	}
	if item.Quarantined {
		return nil, "", domain.New(domain.KindIntegrityFailure, "item is quarantined")
	}
	plaintext, err := c.keys.Decrypt(item.EncryptedContent, item.KeyID)
	if err != nil {
		return nil, "", err
	}
	return item, string(plaintext), nil
}

// ListMemoriesRequest is the input of spec.md §6's list_memories.
type ListMemoriesRequest struct {
	UserID  string
	TopicID string
	Tier    domain.Tier
	Offset  int
	Limit   int
}

// ListMemoriesResult is list_memories' output: an ordered page plus the
// total count of matching (pre-pagination) items.
type ListMemoriesResult struct {
	Items []*domain.MemoryItem
	Total int
}

// ListMemories implements spec.md §6 list_memories. Pagination is applied
// in-process over internal/store.ListForUser's result: this deployment is a
// single-user-per-store embedded database (spec.md §1 "local-first,
// per-user"), so a full per-user scan is bounded by that one user's corpus,
// not by a shared multi-tenant table.
func (c *Core) ListMemories(ctx context.Context, req ListMemoriesRequest) (ListMemoriesResult, error) {
	if req.Limit <= 0 || req.Limit > maxListLimit {
		return ListMemoriesResult{}, domain.New(domain.KindValidation, "limit must be between 1 and 200")
	}

	items, err := c.store.ListForUser(ctx, req.UserID, req.TopicID)
	if err != nil {
		return ListMemoriesResult{}, err
	}

	filtered := items[:0:0]
	for _, item := range items {
		if item.Archived || item.Quarantined {
			continue
		}
		if req.Tier != "" && item.Tier != req.Tier {
			continue
		}
		filtered = append(filtered, item)
	}

	total := len(filtered)
	start := req.Offset
	if start > total {
		start = total
	}
	end := start + req.Limit
	if end > total {
		end = total
	}
	return ListMemoriesResult{Items: filtered[start:end], Total: total}, nil
}

// EditMemoryRequest is the input of spec.md §6's edit_memory: a new text
// (re-embedded and re-encrypted) and/or a new pinned flag.
type EditMemoryRequest struct {
	UserID      string
	ItemID      string
	NewText     *string
	NewPinned   *bool
	ExpectedVersion int64
}

// EditMemory implements spec.md §6 edit_memory, with SPEC_FULL.md's lazy
// re-encryption on write: if the item's key id no longer matches the
// topic's current key version, the edit re-wraps content under the current
// version in the same write rather than waiting for a dedicated migration.
func (c *Core) EditMemory(ctx context.Context, req EditMemoryRequest) (*domain.MemoryItem, error) {
	current, err := c.store.Get(ctx, req.UserID, req.ItemID)
	if err != nil {
		return nil, err
	}

	edit := ItemEdit{Pinned: req.NewPinned}

	if req.NewText != nil {
		if err := validateText(*req.NewText, maxIngestTextLen); err != nil {
			return nil, err
		}
		vec, err := c.embedder.Embed(ctx, *req.NewText)
		if err != nil {
			return nil, domain.Wrap(domain.KindBackendUnavailable, "embed edited text", err).WithBackend(c.embedder.Name())
		}
		encContent, keyID, err := c.keys.EncryptForItem([]byte(*req.NewText), current.TopicID)
		if err != nil {
			return nil, err
		}
		edit.EncryptedContent = encContent
		edit.KeyID = keyID
		edit.Vector = vec
	} else if version, err := c.keys.CurrentVersion(current.TopicID); err == nil && !matchesKeyVersion(current.KeyID, version) {
		rewrapped, keyID, err := c.rewrapContent(current)
		if err == nil {
			edit.EncryptedContent = rewrapped
			edit.KeyID = keyID
		}
	}

	if err := c.store.Update(ctx, req.UserID, req.ItemID, edit, time.Now(), req.ExpectedVersion); err != nil {
		return nil, err
	}

	c.audit(ctx, req.UserID, domain.AuditWrite, req.ItemID, map[string]interface{}{"op": "edit_memory"})
	return c.store.Get(ctx, req.UserID, req.ItemID)
}

func (c *Core) rewrapContent(item *domain.MemoryItem) ([]byte, string, error) {
	plaintext, err := c.keys.Decrypt(item.EncryptedContent, item.KeyID)
	if err != nil {
		return nil, "", err
	}
	return c.keys.EncryptForItem(plaintext, item.TopicID)
}

// PinMemory implements spec.md §6 pin_memory.
func (c *Core) PinMemory(ctx context.Context, userID, itemID string, pinned bool, expectedVersion int64) (*domain.MemoryItem, error) {
	if err := c.store.Update(ctx, userID, itemID, ItemEdit{Pinned: &pinned}, time.Now(), expectedVersion); err != nil {
		return nil, err
	}
	c.audit(ctx, userID, domain.AuditWrite, itemID, map[string]interface{}{"op": "pin_memory", "pinned": pinned})
	return c.store.Get(ctx, userID, itemID)
}

// DeleteMemory implements spec.md §6 delete_memory: archives the item
// (spec.md §4.5's tier lifecycle still applies to single-item deletes —
// full erasure across a topic is delete_all_memory's job, §4.4 EraseUser).
func (c *Core) DeleteMemory(ctx context.Context, userID, itemID string) error {
	if err := c.store.Archive(ctx, userID, itemID, time.Now()); err != nil {
		return err
	}
	c.audit(ctx, userID, domain.AuditDelete, itemID, map[string]interface{}{"op": "delete_memory"})
	return nil
}

// QueryRequest is the input of spec.md §6's query operation.
type QueryRequest struct {
	UserID         string
	Query          string
	TopicID        string
	Intent         rehydrate.Intent
	TokenBudget    int
	ComplianceMode bool
	PermittedPII   map[domain.PIIKind]bool
}

// Query implements spec.md §6 query: validates input, enforces the per-user
// query rate limit, and delegates to internal/rehydrate.Pipeline.
func (c *Core) Query(ctx context.Context, req QueryRequest) (rehydrate.Bundle, error) {
	if err := validateText(req.Query, maxQueryTextLen); err != nil {
		return rehydrate.Bundle{}, err
	}
	if req.TokenBudget == 0 && c.defaultTokenBudget > 0 {
		req.TokenBudget = c.defaultTokenBudget
	}
	if req.TokenBudget < minTokenBudget || req.TokenBudget > maxTokenBudget {
		return rehydrate.Bundle{}, domain.New(domain.KindValidation, "token_budget must be between 100 and 5000")
	}
	if !c.limits.AllowQuery(req.UserID) {
		return rehydrate.Bundle{}, domain.New(domain.KindRateLimited, "query rate limit exceeded")
	}

	release, err := c.concurrency.Acquire(ctx)
	if err != nil {
		return rehydrate.Bundle{}, err
	}
	defer release()

	return c.pipeline.Rehydrate(ctx, rehydrate.Request{
		UserID: req.UserID, Query: req.Query, TopicID: req.TopicID, Intent: req.Intent,
		TokenBudget: req.TokenBudget, ComplianceMode: req.ComplianceMode, PermittedPII: req.PermittedPII,
	})
}

// RecordOutcome implements spec.md §6 record_outcome.
func (c *Core) RecordOutcome(ctx context.Context, userID, queryID string, ev domain.OutcomeEvent) error {
	return c.outcomes.Record(ctx, userID, queryID, ev)
}

// GrantConsent records an operator-confirmed consent token (spec.md §4.4
// "a recorded consent token for that (user, topic, pii_kinds) triple"),
// clearing the way for a future promotion of PII-flagged items in that
// topic. There is no normative wire operation for this in spec.md §6 — the
// out-of-core HTTP surface is expected to gate it behind whatever consent
// UX a deployment uses — but the core needs a way to record the decision.
func (c *Core) GrantConsent(userID, topicID string, kinds []domain.PIIKind) {
	c.consent.Grant(policy.ConsentToken{UserID: userID, TopicID: topicID, PIIKinds: kinds})
}

// RevokeConsent withdraws a previously granted consent token.
func (c *Core) RevokeConsent(userID, topicID string, kinds []domain.PIIKind) {
	c.consent.Revoke(userID, topicID, kinds)
}

// Limiter exposes Core's rate limiter so an ExportCore constructed alongside
// it shares the same per-user token buckets rather than tracking export
// quota against a second, disconnected limiter instance.
func (c *Core) Limiter() *limiter {
	return c.limits
}

func (c *Core) audit(ctx context.Context, userID string, action domain.AuditAction, resourceID string, metadata map[string]interface{}) {
	err := c.store.AppendAuditEvent(ctx, domain.AuditEvent{
		ID: uuid.NewString(), UserID: userID, Action: action, ResourceID: resourceID,
		Metadata: metadata, Timestamp: time.Now(),
	})
	if err != nil {
		logging.BoundaryDebug("audit append failed user=%s resource=%s: %v", userID, resourceID, err)
	}
}

func matchesKeyVersion(keyID string, version crypto.KeyVersion) bool {
	return strings.HasSuffix(keyID, ":v"+strconv.Itoa(int(version)))
}
