package proof

import (
	"sync"

	"github.com/keyproof/keyproofd/pkg/sign"
)

// ResultCache holds verified recovery results for the lifetime of the
// process. Entries never expire: a key binding proven once stays proven.
type ResultCache struct {
	mu      sync.RWMutex
	results map[sign.Address]*RecoveryResult
}

// NewResultCache creates an empty cache.
func NewResultCache() *ResultCache {
	return &ResultCache{results: make(map[sign.Address]*RecoveryResult)}
}

// Get returns the cached result for addr, if any.
func (c *ResultCache) Get(addr sign.Address) (*RecoveryResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result, ok := c.results[addr]
	return result, ok
}

// Put stores a result unless the address already has one; the first verified
// writer wins and the canonical entry is returned either way.
func (c *ResultCache) Put(result *RecoveryResult) *RecoveryResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.results[result.Address]; ok {
		return existing
	}
	c.results[result.Address] = result
	return result
}

// Len reports the number of cached results.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}

// Clear drops every cached result.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = make(map[sign.Address]*RecoveryResult)
}
