package auth

import (
	"sync"
	"sync/atomic"
	"time"
)

// AuthCache is a TTL-based in-memory cache of authenticated agents keyed by
// the full API key. Uses sync.Map for lock-free reads on the hot path.
//
// Stale-while-revalidate: when an entry expires, Get() still returns the stale
// value immediately and signals that a background refresh is needed, so only
// the first request for a key pays for the DB lookup and bcrypt compare.
type AuthCache struct {
	store sync.Map // map[string]*cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	agent      *Agent
	expiresAt  time.Time
	refreshing atomic.Bool // prevents duplicate background refreshes
}

// NewAuthCache creates a cache with the given TTL.
func NewAuthCache(ttl time.Duration) *AuthCache {
	return &AuthCache{ttl: ttl}
}

// GetResult holds the result of a cache lookup.
type GetResult struct {
	Agent        *Agent
	Hit          bool // a value was found, fresh or stale
	NeedsRefresh bool // the entry expired; the caller should refresh it in the background
}

// Get looks up the API key in the cache.
//
//   - Fresh hit:  {Agent, Hit=true,  NeedsRefresh=false}
//   - Stale hit:  {Agent, Hit=true,  NeedsRefresh=true} for exactly one caller
//   - Miss:       {nil,   Hit=false, NeedsRefresh=false}
func (c *AuthCache) Get(apiKey string) GetResult {
	val, ok := c.store.Load(apiKey)
	if !ok {
		return GetResult{}
	}

	entry := val.(*cacheEntry)
	if time.Now().Before(entry.expiresAt) {
		return GetResult{Agent: entry.agent, Hit: true}
	}

	// CompareAndSwap ensures only one goroutine triggers the refresh.
	needsRefresh := entry.refreshing.CompareAndSwap(false, true)
	return GetResult{
		Agent:        entry.agent,
		Hit:          true,
		NeedsRefresh: needsRefresh,
	}
}

// Set stores an agent in the cache with the configured TTL.
func (c *AuthCache) Set(apiKey string, agent *Agent) {
	c.store.Store(apiKey, &cacheEntry{
		agent:     agent,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Delete removes an entry from the cache.
func (c *AuthCache) Delete(apiKey string) {
	c.store.Delete(apiKey)
}

// DeleteAgent removes every entry belonging to the agent key id. The cache is
// keyed by secret, so revocation has to scan.
func (c *AuthCache) DeleteAgent(agentKeyID string) int {
	n := 0
	c.store.Range(func(k, v any) bool {
		if v.(*cacheEntry).agent.AgentKeyID == agentKeyID {
			c.store.Delete(k)
			n++
		}
		return true
	})
	return n
}
