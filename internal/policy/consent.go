package policy

import (
	"sort"
	"strings"
	"sync"
	"time"

	"acms/internal/domain"
)

// ConsentToken records that a user has consented to promoting PII-flagged
// memories in one topic to LONG retention (spec.md §4.4 "Tier-promotion
// gating").
type ConsentToken struct {
	UserID    string
	TopicID   string
	PIIKinds  []domain.PIIKind
	GrantedAt time.Time
}

// ConsentLedger tracks granted consent tokens in memory. It is the policy
// engine's own bookkeeping, not an encrypted store concern: a token records
// a yes/no decision, not sensitive content, so it carries no AEAD envelope.
type ConsentLedger struct {
	mu     sync.RWMutex
	tokens map[string]ConsentToken
}

// NewConsentLedger returns an empty ledger.
func NewConsentLedger() *ConsentLedger {
	return &ConsentLedger{tokens: make(map[string]ConsentToken)}
}

// Grant records consent for a (user, topic, pii_kinds) triple.
func (l *ConsentLedger) Grant(token ConsentToken) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if token.GrantedAt.IsZero() {
		token.GrantedAt = time.Now()
	}
	l.tokens[consentKey(token.UserID, token.TopicID, token.PIIKinds)] = token
}

// Revoke removes a previously granted consent token, if present.
func (l *ConsentLedger) Revoke(userID, topicID string, kinds []domain.PIIKind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tokens, consentKey(userID, topicID, kinds))
}

// Has reports whether consent was granted for exactly this (user, topic,
// pii_kinds) triple.
func (l *ConsentLedger) Has(userID, topicID string, kinds []domain.PIIKind) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.tokens[consentKey(userID, topicID, kinds)]
	return ok
}

func consentKey(userID, topicID string, kinds []domain.PIIKind) string {
	sorted := make([]string, len(kinds))
	for i, k := range kinds {
		sorted[i] = string(k)
	}
	sort.Strings(sorted)
	return userID + "|" + topicID + "|" + strings.Join(sorted, ",")
}

// CheckPromotionConsent implements spec.md §4.4's tier-promotion gating:
// promoting an item with any PII flags to LONG requires a recorded consent
// token for its exact (user, topic, pii_kinds) triple. Items without PII
// flags, or promotions to a tier other than LONG, are always allowed.
func CheckPromotionConsent(item *domain.MemoryItem, targetTier domain.Tier, ledger *ConsentLedger) (allowed bool, reason domain.TransitionReason) {
	if targetTier != domain.TierLong || len(item.PIIFlags) == 0 {
		return true, ""
	}

	kinds := make([]domain.PIIKind, len(item.PIIFlags))
	for i, f := range item.PIIFlags {
		kinds[i] = f.Kind
	}
	if ledger.Has(item.UserID, item.TopicID, kinds) {
		return true, ""
	}
	return false, domain.ReasonPIIConsentRequired
}
