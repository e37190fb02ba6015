package registry

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/entrys/gateway/internal/store"
)

// ToolCache is a TTL-based in-memory cache with stale-while-revalidate for
// resolved tools. Uses sync.Map for lock-free reads on the hot path.
type ToolCache struct {
	entries sync.Map // map[string]*toolCacheEntry
	ttl     time.Duration
}

type toolCacheEntry struct {
	tool       *store.Tool // nil = negative cache (name does not resolve)
	expiresAt  time.Time
	refreshing atomic.Bool
}

// CacheGetResult holds the result of a cache lookup.
type CacheGetResult struct {
	Tool         *store.Tool // nil if not found or negative cache
	Hit          bool        // true if a value was found (fresh or stale)
	NeedsRefresh bool        // true if expired; caller should refresh in background
}

// NewToolCache creates a cache with the given TTL.
func NewToolCache(ttl time.Duration) *ToolCache {
	return &ToolCache{ttl: ttl}
}

func scopePrefix(teamID, envID string) string {
	return teamID + ":" + envID + ":"
}

func cacheKey(teamID, envID, name string) string {
	return scopePrefix(teamID, envID) + name
}

// Get performs a non-blocking cache lookup.
// Returns stale entries with NeedsRefresh=true when expired.
func (c *ToolCache) Get(teamID, envID, name string) CacheGetResult {
	val, ok := c.entries.Load(cacheKey(teamID, envID, name))
	if !ok {
		return CacheGetResult{}
	}

	entry := val.(*toolCacheEntry)
	if time.Now().Before(entry.expiresAt) {
		return CacheGetResult{Tool: entry.tool, Hit: true}
	}

	// Only one goroutine wins the CAS and refreshes.
	return CacheGetResult{
		Tool:         entry.tool,
		Hit:          true,
		NeedsRefresh: entry.refreshing.CompareAndSwap(false, true),
	}
}

// Set stores a resolution with a fresh TTL. Passing nil stores a negative entry.
func (c *ToolCache) Set(teamID, envID, name string, tool *store.Tool) {
	c.entries.Store(cacheKey(teamID, envID, name), &toolCacheEntry{
		tool:      tool,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Delete removes one entry from the cache.
func (c *ToolCache) Delete(teamID, envID, name string) {
	c.entries.Delete(cacheKey(teamID, envID, name))
}

// InvalidateScope drops every cached name of one team environment.
func (c *ToolCache) InvalidateScope(teamID, envID string) {
	prefix := scopePrefix(teamID, envID)
	c.entries.Range(func(k, _ any) bool {
		if strings.HasPrefix(k.(string), prefix) {
			c.entries.Delete(k)
		}
		return true
	})
}
