package auth

import (
	"sync"
	"testing"
	"time"
)

func TestCache_FreshHit(t *testing.T) {
	cache := NewAuthCache(1 * time.Minute)
	cache.Set("ent_stag_abc", &Agent{AgentKeyID: "agent-1"})

	result := cache.Get("ent_stag_abc")
	if !result.Hit {
		t.Fatal("expected cache hit")
	}
	if result.NeedsRefresh {
		t.Error("fresh entry should not need refresh")
	}
	if result.Agent.AgentKeyID != "agent-1" {
		t.Errorf("expected agent-1, got %s", result.Agent.AgentKeyID)
	}
}

func TestCache_Miss(t *testing.T) {
	cache := NewAuthCache(1 * time.Minute)

	result := cache.Get("ent_stag_none")
	if result.Hit || result.Agent != nil || result.NeedsRefresh {
		t.Errorf("expected empty miss, got %+v", result)
	}
}

func TestCache_StaleHit_OnlyOneRefresher(t *testing.T) {
	cache := NewAuthCache(1 * time.Millisecond)
	cache.Set("ent_stag_abc", &Agent{AgentKeyID: "agent-1"})
	time.Sleep(5 * time.Millisecond)

	var wg sync.WaitGroup
	var mu sync.Mutex
	refreshers := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := cache.Get("ent_stag_abc")
			if !r.Hit {
				t.Error("stale entry should still hit")
			}
			if r.NeedsRefresh {
				mu.Lock()
				refreshers++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if refreshers != 1 {
		t.Errorf("expected exactly 1 refresher, got %d", refreshers)
	}
}

func TestCache_DeleteAgent(t *testing.T) {
	cache := NewAuthCache(1 * time.Minute)
	cache.Set("ent_stag_a", &Agent{AgentKeyID: "agent-1"})
	cache.Set("ent_stag_b", &Agent{AgentKeyID: "agent-2"})

	if n := cache.DeleteAgent("agent-1"); n != 1 {
		t.Errorf("deleted %d entries", n)
	}
	if cache.Get("ent_stag_a").Hit {
		t.Error("agent-1 still cached")
	}
	if !cache.Get("ent_stag_b").Hit {
		t.Error("agent-2 evicted")
	}
}
