package rehydrate

import "sync"

// buildGroup is a per-key single-writer lock for the rehydration cache
// (spec.md §5 "Shared resources": the cache must be "single-writer per key
// (build-lock...)" so N concurrent requests for the same cache key run the
// pipeline once and share its result, rather than each re-doing retrieval,
// ranking, and summarization independently). No example in the pack carries
// golang.org/x/sync/singleflight, so this hand-rolls the same shape the
// teacher uses for its own concurrent caches (a mutex-guarded map in
// internal/store/embedded_store.go) rather than pull in a new dependency
// for one call site.
type buildGroup struct {
	mu    sync.Mutex
	calls map[string]*buildCall
}

type buildCall struct {
	wg      sync.WaitGroup
	bundle  Bundle
	itemIDs []string
	err     error
}

// Do runs fn for key, unless another goroutine is already running fn for the
// same key, in which case it waits and returns that call's result.
func (g *buildGroup) Do(key string, fn func() (Bundle, []string, error)) (Bundle, []string, error) {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[string]*buildCall)
	}
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		c.wg.Wait()
		return c.bundle, c.itemIDs, c.err
	}

	c := &buildCall{}
	c.wg.Add(1)
	g.calls[key] = c
	g.mu.Unlock()

	c.bundle, c.itemIDs, c.err = fn()
	c.wg.Done()

	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()

	return c.bundle, c.itemIDs, c.err
}
