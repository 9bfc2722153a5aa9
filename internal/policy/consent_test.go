package policy

import (
	"testing"

	"acms/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestConsentLedgerGrantAndHas(t *testing.T) {
	ledger := NewConsentLedger()
	assert.False(t, ledger.Has("alice", "work", []domain.PIIKind{domain.PIIEmail}))

	ledger.Grant(ConsentToken{UserID: "alice", TopicID: "work", PIIKinds: []domain.PIIKind{domain.PIIEmail}})
	assert.True(t, ledger.Has("alice", "work", []domain.PIIKind{domain.PIIEmail}))
}

func TestConsentLedgerKeyOrderIndependent(t *testing.T) {
	ledger := NewConsentLedger()
	ledger.Grant(ConsentToken{UserID: "alice", TopicID: "work", PIIKinds: []domain.PIIKind{domain.PIIEmail, domain.PIIPhone}})
	assert.True(t, ledger.Has("alice", "work", []domain.PIIKind{domain.PIIPhone, domain.PIIEmail}))
}

func TestConsentLedgerRevoke(t *testing.T) {
	ledger := NewConsentLedger()
	kinds := []domain.PIIKind{domain.PIIEmail}
	ledger.Grant(ConsentToken{UserID: "alice", TopicID: "work", PIIKinds: kinds})
	ledger.Revoke("alice", "work", kinds)
	assert.False(t, ledger.Has("alice", "work", kinds))
}

func TestConsentLedgerScopedToExactTriple(t *testing.T) {
	ledger := NewConsentLedger()
	ledger.Grant(ConsentToken{UserID: "alice", TopicID: "work", PIIKinds: []domain.PIIKind{domain.PIIEmail}})

	assert.False(t, ledger.Has("bob", "work", []domain.PIIKind{domain.PIIEmail}))
	assert.False(t, ledger.Has("alice", "personal", []domain.PIIKind{domain.PIIEmail}))
	assert.False(t, ledger.Has("alice", "work", []domain.PIIKind{domain.PIIPhone}))
}

func TestCheckPromotionConsentAllowsNonLongTier(t *testing.T) {
	item := &domain.MemoryItem{UserID: "alice", TopicID: "work", PIIFlags: []domain.PIIFlag{{Kind: domain.PIIEmail}}}
	allowed, reason := CheckPromotionConsent(item, domain.TierMid, NewConsentLedger())
	assert.True(t, allowed)
	assert.Empty(t, reason)
}

func TestCheckPromotionConsentAllowsNoPII(t *testing.T) {
	item := &domain.MemoryItem{UserID: "alice", TopicID: "work"}
	allowed, _ := CheckPromotionConsent(item, domain.TierLong, NewConsentLedger())
	assert.True(t, allowed)
}

func TestCheckPromotionConsentDeniesWithoutConsent(t *testing.T) {
	item := &domain.MemoryItem{UserID: "alice", TopicID: "work", PIIFlags: []domain.PIIFlag{{Kind: domain.PIIEmail}}}
	allowed, reason := CheckPromotionConsent(item, domain.TierLong, NewConsentLedger())
	assert.False(t, allowed)
	assert.Equal(t, domain.ReasonPIIConsentRequired, reason)
}

func TestCheckPromotionConsentAllowsWithGrantedConsent(t *testing.T) {
	ledger := NewConsentLedger()
	ledger.Grant(ConsentToken{UserID: "alice", TopicID: "work", PIIKinds: []domain.PIIKind{domain.PIIEmail}})
	item := &domain.MemoryItem{UserID: "alice", TopicID: "work", PIIFlags: []domain.PIIFlag{{Kind: domain.PIIEmail}}}

	allowed, reason := CheckPromotionConsent(item, domain.TierLong, ledger)
	assert.True(t, allowed)
	assert.Empty(t, reason)
}
