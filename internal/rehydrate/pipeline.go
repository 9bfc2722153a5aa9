package rehydrate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"acms/internal/crs"
	"acms/internal/domain"
	"acms/internal/embedding"
	"acms/internal/logging"
	"acms/internal/policy"

	"github.com/google/uuid"
)

// ItemStore is the narrow slice of internal/store.Store the rehydration
// pipeline needs, following the same local-interface convention as
// internal/tier and internal/policy. Search's signature uses domain's
// SearchFilter/ScoredItem types (moved there for exactly this reason) so
// *store.Store satisfies this interface without this package importing
// internal/store.
type ItemStore interface {
	Search(ctx context.Context, filter domain.SearchFilter, queryVec []float32) ([]domain.ScoredItem, error)
	IncrementAccess(ctx context.Context, userID, itemID string, at time.Time) error
	RecordQueryLog(ctx context.Context, ql domain.QueryLog) error
	AppendAuditEvent(ctx context.Context, ev domain.AuditEvent) error
}

// KeyManager is the narrow slice of internal/crypto.Manager this package
// needs to decrypt candidate content for excerpting and summarization.
type KeyManager interface {
	Decrypt(blob []byte, keyID string) ([]byte, error)
}

const excerptRunes = 280

// Pipeline implements the rehydration pipeline of spec.md §4.6.
type Pipeline struct {
	store      ItemStore
	keys       KeyManager
	embedder   embedding.EmbeddingEngine
	summarizer embedding.Summarizer
	classifier      *Classifier
	cache           *Cache
	tokenizer       Tokenizer
	hybridOverrides map[Intent]RankWeights
	candidateK      int
	minScore        float64

	buildLocked buildGroup
}

// NewPipeline constructs a Pipeline. classifier and cache default when nil.
func NewPipeline(store ItemStore, keys KeyManager, embedder embedding.EmbeddingEngine, summarizer embedding.Summarizer, classifier *Classifier, cache *Cache) *Pipeline {
	if classifier == nil {
		classifier = NewClassifier(nil)
	}
	if cache == nil {
		cache = NewCache()
	}
	return &Pipeline{
		store: store, keys: keys, embedder: embedder, summarizer: summarizer,
		classifier: classifier, cache: cache, tokenizer: DefaultTokenizer,
		candidateK: DefaultCandidateK, minScore: DefaultMinScore,
	}
}

// WithRetrievalParams overrides the candidate-retrieval call defaults
// (spec.md §6 configuration surface: `retrieval.k_candidates`,
// `retrieval.min_score`). Zero values leave the built-in defaults in place.
func (p *Pipeline) WithRetrievalParams(k int, minScore float64) *Pipeline {
	if k > 0 {
		p.candidateK = k
	}
	if minScore > 0 {
		p.minScore = minScore
	}
	return p
}

// WithTokenizer overrides the default character-length/4 token estimator.
func (p *Pipeline) WithTokenizer(t Tokenizer) *Pipeline {
	p.tokenizer = t
	return p
}

// WithHybridOverrides replaces the built-in per-intent hybrid-ranking
// weight table with one supplied by the caller (internal/config's
// rehydration.hybrid_overrides surface). A nil or missing entry for a
// given intent still falls back to DefaultRankWeights.
func (p *Pipeline) WithHybridOverrides(overrides map[Intent]RankWeights) *Pipeline {
	p.hybridOverrides = overrides
	return p
}

// Rehydrate runs the full pipeline for req (spec.md §4.6). On cache hit it
// returns immediately with Bundle.CacheHit set. On cache miss it runs every
// stage, populating the cache only if ctx was not cancelled before
// completion and recording side effects (access-count bump, query log)
// asynchronously.
func (p *Pipeline) Rehydrate(ctx context.Context, req Request) (Bundle, error) {
	timer := logging.StartTimer(logging.CategoryRehydrate, "Rehydrate")
	defer timer.Stop()

	intent := req.Intent
	if intent == "" {
		intent = p.classifier.Classify(req.Query)
	}

	key := cacheKey(req.UserID, req.Query, req.TopicID, intent, req.ComplianceMode)
	now := time.Now()
	if bundle, ok := p.cache.Get(key, now); ok {
		bundle.CacheHit = true
		return bundle, nil
	}

	bundle, itemIDs, err := p.buildLocked.Do(key, func() (Bundle, []string, error) {
		return p.run(ctx, req, intent, now)
	})
	if err != nil {
		return Bundle{}, err
	}

	if ctx.Err() == nil {
		p.cache.Put(key, bundle, time.Now())
	}

	go p.recordSideEffects(req.UserID, req.Query, itemIDs)

	return bundle, nil
}

func (p *Pipeline) run(ctx context.Context, req Request, intent Intent, now time.Time) (Bundle, []string, error) {
	retrievalStart := time.Now()

	queryVec, err := p.embedder.Embed(ctx, req.Query)
	if err != nil {
		return Bundle{}, nil, domain.Wrap(domain.KindInternal, "embed rehydration query", err)
	}

	filter := domain.SearchFilter{
		UserID:          req.UserID,
		ExcludeArchived: true,
		MinScore:        p.minScore,
		Limit:           p.candidateK,
	}
	if req.ComplianceMode && req.TopicID != "" {
		filter.TopicIDs = []string{req.TopicID}
	}

	hits, err := p.store.Search(ctx, filter, queryVec)
	if err != nil {
		return Bundle{}, nil, domain.Wrap(domain.KindInternal, "search candidates", err)
	}

	candidates := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		if h.Item.Quarantined {
			continue
		}
		candidates = append(candidates, Candidate{Item: h.Item, VecSim: rescaleSimilarity(h.Similarity)})
	}

	overrides := p.hybridOverrides
	if overrides == nil {
		overrides = intentRankOverrides
	}
	weights := RankWeightsForOverrides(intent, overrides)
	ranked := Rank(candidates, weights, now)

	items := make([]*domain.MemoryItem, len(ranked))
	for i, c := range ranked {
		items[i] = c.Item
	}
	if req.ComplianceMode {
		items = policy.FilterByTopic(ctx, p.store, req.UserID, req.TopicID, items)
	}
	items = policy.FilterDisallowedPII(items, req.PermittedPII)

	kept := make(map[string]bool, len(items))
	for _, it := range items {
		kept[it.ID] = true
	}
	filtered := make([]Candidate, 0, len(items))
	for _, c := range ranked {
		if kept[c.Item.ID] {
			filtered = append(filtered, c)
		}
	}

	decrypted := make([]decryptedCandidate, 0, len(filtered))
	for _, c := range filtered {
		plain, err := p.keys.Decrypt(c.Item.EncryptedContent, c.Item.KeyID)
		if err != nil {
			logging.RehydrateDebug("skipping candidate item=%s: decrypt failed: %v", c.Item.ID, err)
			continue
		}
		decrypted = append(decrypted, decryptedCandidate{Candidate: c, Text: string(plain)})
	}

	retrievalDuration := time.Since(retrievalStart)

	selected, usedTokens := SelectWithinBudget(decrypted, req.TokenBudget, p.tokenizer)

	summarizeStart := time.Now()
	groups := groupForSummary(selected)
	summaryBudget := req.TokenBudget - usedTokens
	if summaryBudget < len(groups)*16 {
		summaryBudget = len(groups) * 16
	}
	summary, completed, err := summarizeGroups(ctx, p.summarizer, groups, intent, summaryBudget)
	if err != nil {
		return Bundle{}, nil, err
	}
	summarizeDuration := time.Since(summarizeStart)

	partial := completed < len(groups)
	keptGroups := selected
	if partial {
		keptGroups = nil
		for _, g := range groups[:completed] {
			keptGroups = append(keptGroups, g...)
		}
	}

	records := make([]ItemRecord, len(keptGroups))
	itemIDs := make([]string, len(keptGroups))
	totalTokens := 0
	for i, c := range keptGroups {
		records[i] = ItemRecord{
			ItemID:      c.Item.ID,
			Tier:        c.Item.Tier,
			Score:       c.Item.RetentionScore,
			Excerpt:     excerpt(c.Text),
			Relevance:   c.Hybrid,
			OutcomeRate: crs.AggregateOutcome(c.Item.OutcomeLog),
		}
		itemIDs[i] = c.Item.ID
		totalTokens += p.tokenizer.CountTokens(c.Text)
	}
	if !partial {
		totalTokens = usedTokens
	}

	bundle := Bundle{
		Summary:           summary,
		Items:             records,
		TotalTokens:       totalTokens,
		RetrievalDuration: retrievalDuration,
		SummarizeDuration: summarizeDuration,
		CacheHit:          false,
		Intent:            intent,
		Partial:           partial,
	}
	return bundle, itemIDs, nil
}

// recordSideEffects implements spec.md §4.6 "Side effects": asynchronously
// bump access_count/last_used_time for items used in the bundle and write a
// content-hash-only query log. It runs detached from the request's context
// so a cancelled or already-returned request's cleanup still completes.
func (p *Pipeline) recordSideEffects(userID, query string, itemIDs []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now()
	for _, id := range itemIDs {
		if err := p.store.IncrementAccess(ctx, userID, id, now); err != nil {
			logging.RehydrateDebug("increment access failed item=%s: %v", id, err)
		}
	}

	ql := domain.QueryLog{
		ID:               uuid.NewString(),
		UserID:           userID,
		QueryContentHash: contentHash(query),
		ItemIDsUsed:      itemIDs,
		Timestamp:        now,
	}
	if err := p.store.RecordQueryLog(ctx, ql); err != nil {
		logging.RehydrateDebug("record query log failed: %v", err)
	}
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= excerptRunes {
		return text
	}
	return string(runes[:excerptRunes]) + "…"
}
