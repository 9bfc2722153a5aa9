// Package profile builds the per-user domain.UserProfile that internal/crs
// and internal/tier read: default weights/thresholds plus topic centroids
// derived from each topic's current non-archived item vectors. It is the
// concrete internal/scheduler.ProfileSource: the scheduler depends on
// resolving a profile before each nightly run, and this package owns how
// that resolution actually happens.
package profile

import (
	"context"

	"acms/internal/crs"
	"acms/internal/crypto"
	"acms/internal/domain"
	"acms/internal/embedding"
	"acms/internal/logging"
)

// ItemLister is the narrow slice of internal/store.Store this package needs.
type ItemLister interface {
	ListForUser(ctx context.Context, userID, topicID string) ([]*domain.MemoryItem, error)
	ListTopics(ctx context.Context, userID string) ([]string, error)
}

// VectorDecrypter is the narrow slice of internal/crypto.Manager this
// package needs to recover plaintext vectors for centroid averaging.
type VectorDecrypter interface {
	Decrypt(blob []byte, keyID string) ([]byte, error)
}

// OverrideSource supplies per-user weight/threshold/PII-penalty overrides
// (internal/config's eventual per-user override surface). A nil
// OverrideSource, or one returning ok=false, leaves the built-in defaults
// from internal/crs in place.
type OverrideSource interface {
	UserOverrides(userID string) (weights domain.CRSWeights, thresholds domain.TierThresholds, piiPenalty map[domain.PIIKind]float64, ok bool)
}

// Builder constructs domain.UserProfile values on demand. It holds no
// per-user state itself: every call to GetProfile recomputes centroids from
// the store's current contents, so a profile is never stale by more than
// one scheduler cycle (spec.md §3 "updated lazily").
type Builder struct {
	items     ItemLister
	keys      VectorDecrypter
	overrides OverrideSource
}

func NewBuilder(items ItemLister, keys VectorDecrypter, overrides OverrideSource) *Builder {
	return &Builder{items: items, keys: keys, overrides: overrides}
}

// GetProfile implements internal/scheduler.ProfileSource.
func (b *Builder) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	p := &domain.UserProfile{
		UserID:         userID,
		Weights:        crs.DefaultWeights(),
		Thresholds:     crs.DefaultThresholds(),
		TopicCentroids: make(map[string][]float32),
		TopicCounts:    make(map[string]int),
	}

	if b.overrides != nil {
		if w, th, pii, ok := b.overrides.UserOverrides(userID); ok {
			p.Weights = w
			p.Thresholds = th
			p.PIIPenalty = pii
		}
	}

	topics, err := b.items.ListTopics(ctx, userID)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "list topics for profile", err)
	}

	for _, topicID := range topics {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		centroid, count, err := b.topicCentroid(ctx, userID, topicID)
		if err != nil {
			logging.CRSDebug("skipping centroid for topic=%s user=%s: %v", topicID, userID, err)
			continue
		}
		if count == 0 {
			continue
		}
		p.TopicCentroids[topicID] = centroid
		p.TopicCounts[topicID] = count
	}

	return p, nil
}

// topicCentroid averages the decrypted vectors of every non-archived,
// non-quarantined item in topicID. Items with no stored vector (text-only
// items predating embedding, or embedding failures) are skipped rather than
// treated as zero vectors, so they don't drag the centroid toward the
// origin.
func (b *Builder) topicCentroid(ctx context.Context, userID, topicID string) ([]float32, int, error) {
	items, err := b.items.ListForUser(ctx, userID, topicID)
	if err != nil {
		return nil, 0, err
	}

	var sum []float32
	var n int
	for _, item := range items {
		if item.Archived || item.Quarantined || len(item.EncryptedVector) == 0 {
			continue
		}
		plaintext, err := b.keys.Decrypt(item.EncryptedVector, item.KeyID)
		if err != nil {
			logging.CRSDebug("decrypt vector failed item=%s: %v", item.ID, err)
			continue
		}
		vec, err := embedding.DecodeVector(plaintext)
		if err != nil {
			continue
		}
		if sum == nil {
			sum = make([]float32, len(vec))
		}
		if len(vec) != len(sum) {
			continue // dimension mismatch across a model change, skip rather than corrupt the average
		}
		for i, v := range vec {
			sum[i] += v
		}
		n++
	}

	if n == 0 {
		return nil, 0, nil
	}
	for i := range sum {
		sum[i] /= float32(n)
	}
	return sum, n, nil
}

var _ VectorDecrypter = (*crypto.Manager)(nil)
