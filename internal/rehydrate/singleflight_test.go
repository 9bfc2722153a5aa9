package rehydrate

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildGroupDedupsConcurrentCallsForSameKey(t *testing.T) {
	var g buildGroup
	var calls int
	var mu sync.Mutex
	release := make(chan struct{})

	run := func() (Bundle, []string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return Bundle{Summary: "built"}, []string{"1"}, nil
	}

	const n = 5
	var wg sync.WaitGroup
	results := make([]Bundle, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			b, _, _ := g.Do("same-key", run)
			results[i] = b
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "concurrent calls for the same key should run fn once")
	for _, b := range results {
		assert.Equal(t, "built", b.Summary)
	}
}

func TestBuildGroupRunsIndependentlyForDifferentKeys(t *testing.T) {
	var g buildGroup
	var calls int
	var mu sync.Mutex

	run := func() (Bundle, []string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return Bundle{}, nil, nil
	}

	g.Do("a", run)
	g.Do("b", run)

	assert.Equal(t, 2, calls)
}

func TestBuildGroupAllowsSequentialReuseOfSameKey(t *testing.T) {
	var g buildGroup
	var calls int

	run := func() (Bundle, []string, error) {
		calls++
		return Bundle{}, nil, nil
	}

	g.Do("k", run)
	g.Do("k", run)

	assert.Equal(t, 2, calls, "once the first build finishes, the key is released for future builds")
}
