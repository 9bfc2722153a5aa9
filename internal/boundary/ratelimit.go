package boundary

import (
	"sync"
	"time"
)

// tokenBucket is a classic token-bucket rate limiter: capacity tokens
// refill continuously at rate tokens/sec, and Allow consumes one if
// available. No example in the pack implements rate limiting, so this
// hand-rolls the well-known algorithm spec.md §5 names by name ("per-user
// token bucket") rather than reach for a new dependency for ~15 lines.
type tokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(capacity float64, refillRate float64) *tokenBucket {
	return &tokenBucket{capacity: capacity, tokens: capacity, refillRate: refillRate, lastRefill: time.Now()}
}

func (b *tokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// limiter enforces spec.md §6's per-user rate limits: default 100
// ingests/minute, 100 queries/minute, 10 exports/day, overridable via
// internal/config's `rate_limits.*` surface.
type limiter struct {
	ingests sync.Map // userID -> *tokenBucket
	queries sync.Map
	exports sync.Map

	ingestsPerMinute float64
	queriesPerMinute float64
	exportsPerDay    float64
}

func newLimiter() *limiter {
	return newLimiterWithRates(defaultIngestsPerMinute, defaultQueriesPerMinute, defaultExportsPerDay)
}

// newLimiterWithRates builds a limiter with caller-supplied per-minute/
// per-day ceilings (internal/config's rate_limits.* surface). Non-positive
// values fall back to the spec.md §6 defaults.
func newLimiterWithRates(ingestsPerMinute, queriesPerMinute, exportsPerDay int) *limiter {
	if ingestsPerMinute <= 0 {
		ingestsPerMinute = defaultIngestsPerMinute
	}
	if queriesPerMinute <= 0 {
		queriesPerMinute = defaultQueriesPerMinute
	}
	if exportsPerDay <= 0 {
		exportsPerDay = defaultExportsPerDay
	}
	return &limiter{
		ingestsPerMinute: float64(ingestsPerMinute),
		queriesPerMinute: float64(queriesPerMinute),
		exportsPerDay:    float64(exportsPerDay),
	}
}

const (
	defaultIngestsPerMinute = 100
	defaultQueriesPerMinute = 100
	defaultExportsPerDay    = 10
)

func (l *limiter) AllowIngest(userID string) bool {
	return bucketFor(&l.ingests, userID, l.ingestsPerMinute, l.ingestsPerMinute/60.0).Allow()
}

func (l *limiter) AllowQuery(userID string) bool {
	return bucketFor(&l.queries, userID, l.queriesPerMinute, l.queriesPerMinute/60.0).Allow()
}

func (l *limiter) AllowExport(userID string) bool {
	return bucketFor(&l.exports, userID, l.exportsPerDay, l.exportsPerDay/86400.0).Allow()
}

func bucketFor(m *sync.Map, userID string, capacity, refillRate float64) *tokenBucket {
	v, _ := m.LoadOrStore(userID, newTokenBucket(capacity, refillRate))
	return v.(*tokenBucket)
}
