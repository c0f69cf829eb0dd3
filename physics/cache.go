package physics

import (
	"sync"

	"github.com/nanalysis/ringfit/internal/hash"
)

// RelaxCache memoizes RelaxConstants keyed by rounded field and element pair.
//
// Entries are immutable once inserted. Lookups use insert-or-fetch semantics:
// concurrent callers that miss on the same key build at most a few candidates
// and all observe the first stored entry.
type RelaxCache struct {
	mu      sync.RWMutex
	entries map[uint64]*RelaxConstants
}

// NewRelaxCache creates an empty cache.
func NewRelaxCache() *RelaxCache {
	return &RelaxCache{entries: make(map[uint64]*RelaxConstants)}
}

// LoadOrStore returns the cached entry for (sf, elemI, elemS), building and
// inserting it with build on a miss.
func (c *RelaxCache) LoadOrStore(sf float64, elemI, elemS Element, build func() (*RelaxConstants, error)) (*RelaxConstants, error) {
	key := hash.FieldKey(sf, string(elemI), string(elemS))

	c.mu.RLock()
	rc, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return rc, nil
	}

	built, err := build()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		return existing, nil
	}
	c.entries[key] = built

	return built, nil
}

// Invalidate drops every entry.
func (c *RelaxCache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[uint64]*RelaxConstants)
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *RelaxCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}
