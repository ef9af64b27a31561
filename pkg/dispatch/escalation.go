package dispatch

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// EscalationCache tracks cheap-tier failures by intent prefix. Once a prefix
// accumulates enough failures, similar intents are forced onto the complex
// path regardless of the heuristic. The cache is LRU-bounded so the key space
// cannot grow without limit.
type EscalationCache struct {
	mu        sync.Mutex
	failures  *lru.Cache[string, int]
	threshold int
	prefixLen int
}

// NewEscalationCache creates a cache holding at most size prefixes, escalating
// after threshold failures.
func NewEscalationCache(size, threshold, prefixLen int) (*EscalationCache, error) {
	if size <= 0 {
		size = 256
	}
	if threshold <= 0 {
		threshold = 3
	}
	if prefixLen <= 0 {
		prefixLen = 32
	}
	cache, err := lru.New[string, int](size)
	if err != nil {
		return nil, err
	}
	return &EscalationCache{
		failures:  cache,
		threshold: threshold,
		prefixLen: prefixLen,
	}, nil
}

// RecordFailure notes one cheap-tier failure for intents like this one.
func (e *EscalationCache) RecordFailure(intent string) {
	key := e.key(intent)
	e.mu.Lock()
	defer e.mu.Unlock()
	count, _ := e.failures.Get(key)
	e.failures.Add(key, count+1)
}

// RecordSuccess clears accumulated failures for intents like this one.
func (e *EscalationCache) RecordSuccess(intent string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures.Remove(e.key(intent))
}

// ShouldEscalate reports whether intents with this prefix have failed on the
// cheap tier often enough to force the complex path.
func (e *EscalationCache) ShouldEscalate(intent string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	count, ok := e.failures.Get(e.key(intent))
	return ok && count >= e.threshold
}

func (e *EscalationCache) key(intent string) string {
	normalized := strings.ToLower(strings.TrimSpace(intent))
	return truncateAtRune(normalized, e.prefixLen)
}
