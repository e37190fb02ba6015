package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestMemoryLimiter_Boundary(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := newMemoryLimiterWithClock(Config{}, clock.Now)
	ctx := context.Background()

	for i := 0; i < DefaultCapacity; i++ {
		if !l.Consume(ctx, "agent-1", "tool-1") {
			t.Fatalf("call %d rejected, want allowed", i+1)
		}
	}
	if l.Consume(ctx, "agent-1", "tool-1") {
		t.Fatal("call 61 allowed, want rejected")
	}

	clock.Advance(time.Second)
	if !l.Consume(ctx, "agent-1", "tool-1") {
		t.Fatal("call after 1s rejected, want exactly one allowed")
	}
	if l.Consume(ctx, "agent-1", "tool-1") {
		t.Fatal("second call after 1s allowed, want rejected")
	}
}

func TestMemoryLimiter_PartialIntervalCarries(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := newMemoryLimiterWithClock(Config{Capacity: 1, Interval: time.Second}, clock.Now)
	ctx := context.Background()

	if !l.Consume(ctx, "a", "t") {
		t.Fatal("first call rejected")
	}
	clock.Advance(600 * time.Millisecond)
	if l.Consume(ctx, "a", "t") {
		t.Fatal("allowed before a full interval")
	}
	clock.Advance(400 * time.Millisecond)
	if !l.Consume(ctx, "a", "t") {
		t.Fatal("rejected after 600ms+400ms")
	}
}

func TestMemoryLimiter_RefillCapped(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := newMemoryLimiterWithClock(Config{Capacity: 3, Interval: time.Second}, clock.Now)
	ctx := context.Background()

	l.Consume(ctx, "a", "t")
	clock.Advance(time.Hour)

	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Consume(ctx, "a", "t") {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("allowed = %d after long idle, want capacity 3", allowed)
	}
}

func TestMemoryLimiter_KeysIndependent(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := newMemoryLimiterWithClock(Config{Capacity: 1, Interval: time.Minute}, clock.Now)
	ctx := context.Background()

	if !l.Consume(ctx, "agent-1", "tool-1") {
		t.Fatal("agent-1/tool-1 rejected")
	}
	if !l.Consume(ctx, "agent-1", "tool-2") {
		t.Error("agent-1/tool-2 shares a bucket with tool-1")
	}
	if !l.Consume(ctx, "agent-2", "tool-1") {
		t.Error("agent-2/tool-1 shares a bucket with agent-1")
	}
	if l.Consume(ctx, "agent-1", "tool-1") {
		t.Error("agent-1/tool-1 allowed twice")
	}
}

func TestMemoryLimiter_ConcurrentSameKey(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := newMemoryLimiterWithClock(Config{}, clock.Now)
	ctx := context.Background()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Consume(ctx, "agent", "tool") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != DefaultCapacity {
		t.Errorf("allowed = %d, want %d", got, DefaultCapacity)
	}
}

func TestMemoryLimiter_Prune(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := newMemoryLimiterWithClock(Config{Capacity: 2, Interval: time.Second}, clock.Now)
	ctx := context.Background()

	l.Consume(ctx, "a", "t1")
	l.Consume(ctx, "a", "t2")
	l.Consume(ctx, "a", "t2")

	clock.Advance(time.Second)
	if n := l.Prune(); n != 1 {
		t.Errorf("pruned %d buckets, want 1 (t1 refilled, t2 still short)", n)
	}
	clock.Advance(time.Second)
	if n := l.Prune(); n != 1 {
		t.Errorf("pruned %d buckets, want 1", n)
	}
}
