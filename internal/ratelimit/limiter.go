// Package ratelimit enforces a token bucket per (agent key, tool) pair.
package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// Defaults: 60 calls, one token back per second.
const (
	DefaultCapacity = 60
	DefaultInterval = time.Second
)

const numShards = 64

// Limiter decides whether one more call is permitted for an agent/tool pair.
type Limiter interface {
	Consume(ctx context.Context, agentKeyID, toolID string) bool
}

// Config sets the bucket shape.
type Config struct {
	Capacity int
	Interval time.Duration // time to refill one token
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	return c
}

func bucketKey(agentKeyID, toolID string) string {
	return agentKeyID + ":" + toolID
}

type bucket struct {
	tokens int
	last   time.Time
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// MemoryLimiter keeps buckets in process memory. The map is split across
// shards so unrelated keys rarely contend; consumes of one key serialize.
type MemoryLimiter struct {
	cfg    Config
	now    func() time.Time
	shards [numShards]shard
}

// NewMemoryLimiter creates a MemoryLimiter. A zero Config uses the defaults.
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	l := &MemoryLimiter{cfg: cfg.withDefaults(), now: time.Now}
	for i := range l.shards {
		l.shards[i].buckets = make(map[string]*bucket)
	}
	return l
}

// newMemoryLimiterWithClock is used by tests to drive time explicitly.
func newMemoryLimiterWithClock(cfg Config, now func() time.Time) *MemoryLimiter {
	l := NewMemoryLimiter(cfg)
	l.now = now
	return l
}

func (l *MemoryLimiter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.shards[h.Sum32()%numShards]
}

// Consume takes one token from the pair's bucket if one is available.
func (l *MemoryLimiter) Consume(_ context.Context, agentKeyID, toolID string) bool {
	key := bucketKey(agentKeyID, toolID)
	s := l.shardFor(key)
	now := l.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{tokens: l.cfg.Capacity, last: now}
		s.buckets[key] = b
	}
	l.refill(b, now)

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// refill adds whole elapsed intervals. The partial interval is kept by moving
// last forward only by the credited amount.
func (l *MemoryLimiter) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	add := int(elapsed / l.cfg.Interval)
	if add > 0 {
		b.tokens += add
		b.last = b.last.Add(time.Duration(add) * l.cfg.Interval)
	}
	if b.tokens >= l.cfg.Capacity {
		b.tokens = l.cfg.Capacity
		b.last = now
	}
}

// Prune drops buckets that have refilled completely; a new bucket for the
// same key would start full anyway.
func (l *MemoryLimiter) Prune() int {
	now := l.now()
	removed := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for k, b := range s.buckets {
			l.refill(b, now)
			if b.tokens >= l.cfg.Capacity {
				delete(s.buckets, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Run prunes on every tick until ctx is cancelled.
func (l *MemoryLimiter) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}
