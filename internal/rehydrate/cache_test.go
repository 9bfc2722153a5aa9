package rehydrate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheGetMissWhenEmpty(t *testing.T) {
	c := NewCache()
	_, ok := c.Get("k", time.Now())
	assert.False(t, ok)
}

func TestCachePutThenGetHits(t *testing.T) {
	c := NewCache()
	now := time.Now()
	c.Put("k", Bundle{Summary: "s"}, now)

	got, ok := c.Get("k", now)
	assert.True(t, ok)
	assert.Equal(t, "s", got.Summary)
}

func TestCacheEntryExpiresAfterTTL(t *testing.T) {
	c := NewCache()
	now := time.Now()
	c.Put("k", Bundle{Summary: "s"}, now)

	_, ok := c.Get("k", now.Add(CacheTTL+time.Second))
	assert.False(t, ok)
}

func TestCacheKeyDiffersByIntent(t *testing.T) {
	a := cacheKey("u1", "query", "topic", IntentCodeAssist, false)
	b := cacheKey("u1", "query", "topic", IntentResearch, false)
	assert.NotEqual(t, a, b)
}

func TestCacheKeyStableForSameInputs(t *testing.T) {
	a := cacheKey("u1", "query", "topic", IntentGeneral, false)
	b := cacheKey("u1", "query", "topic", IntentGeneral, false)
	assert.Equal(t, a, b)
}

func TestPurgeExpiredRemovesStaleEntries(t *testing.T) {
	c := NewCache()
	now := time.Now()
	c.Put("k", Bundle{}, now)
	c.purgeExpired(now.Add(CacheTTL + time.Second))

	assert.Empty(t, c.entries)
}
