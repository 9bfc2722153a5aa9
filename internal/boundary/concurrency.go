package boundary

import (
	"context"
	"sync/atomic"

	"acms/internal/domain"
)

// concurrencyGate bounds how many rehydration requests run at once and how
// many more may wait for a free slot (spec.md §5 "Backpressure"). No example
// in the pack implements queueing, so this hand-rolls a buffered-channel
// semaphore plus an atomic queue-depth counter, the same stdlib-first
// reasoning ratelimit.go's token bucket already uses for this package.
type concurrencyGate struct {
	slots    chan struct{}
	queued   int64
	maxQueue int64
}

func newConcurrencyGate(maxConcurrent, maxQueueDepth int) *concurrencyGate {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentQueries
	}
	if maxQueueDepth < 0 {
		maxQueueDepth = defaultMaxQueuedQueries
	}
	return &concurrencyGate{slots: make(chan struct{}, maxConcurrent), maxQueue: int64(maxQueueDepth)}
}

const (
	defaultMaxConcurrentQueries = 8
	defaultMaxQueuedQueries     = 32
)

// Acquire reserves a run slot, queueing the caller if every slot is busy.
// It fails immediately with KindOverloaded once the queue itself is full,
// and with KindDeadlineExceeded if ctx is cancelled while queued. The
// returned release func must be called exactly once to free the slot.
func (g *concurrencyGate) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case g.slots <- struct{}{}:
		return func() { <-g.slots }, nil
	default:
	}

	if atomic.AddInt64(&g.queued, 1) > g.maxQueue {
		atomic.AddInt64(&g.queued, -1)
		return nil, domain.New(domain.KindOverloaded, "rehydration request queue is full")
	}
	defer atomic.AddInt64(&g.queued, -1)

	select {
	case g.slots <- struct{}{}:
		return func() { <-g.slots }, nil
	case <-ctx.Done():
		return nil, domain.Wrap(domain.KindDeadlineExceeded, "rehydration request cancelled while queued", ctx.Err())
	}
}
