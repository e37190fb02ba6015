package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/entrys/gateway/internal/store"
)

func TestCache_FreshHit(t *testing.T) {
	c := NewToolCache(30 * time.Second)
	c.Set("team1", "env1", "echo", &store.Tool{LogicalName: "echo_httpbin", Version: "v1"})

	result := c.Get("team1", "env1", "echo")
	if !result.Hit {
		t.Fatal("expected cache hit")
	}
	if result.NeedsRefresh {
		t.Fatal("expected fresh, got needs refresh")
	}
	if result.Tool.LogicalName != "echo_httpbin" {
		t.Fatalf("expected echo_httpbin, got %s", result.Tool.LogicalName)
	}
}

func TestCache_MissAndScoping(t *testing.T) {
	c := NewToolCache(30 * time.Second)
	c.Set("team1", "env1", "echo", &store.Tool{Version: "v1"})

	if c.Get("team1", "env2", "echo").Hit {
		t.Fatal("entry leaked across environments")
	}
	if c.Get("team2", "env1", "echo").Hit {
		t.Fatal("entry leaked across teams")
	}
}

func TestCache_NegativeCache(t *testing.T) {
	c := NewToolCache(30 * time.Second)
	c.Set("team1", "env1", "unknown", nil)

	result := c.Get("team1", "env1", "unknown")
	if !result.Hit {
		t.Fatal("expected cache hit for negative cache")
	}
	if result.Tool != nil {
		t.Fatal("expected nil tool for negative cache")
	}
}

func TestCache_StaleHitSignalsRefreshOnce(t *testing.T) {
	c := NewToolCache(time.Millisecond)
	c.Set("team1", "env1", "echo", &store.Tool{Version: "v1"})
	time.Sleep(5 * time.Millisecond)

	var mu sync.Mutex
	refreshes := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := c.Get("team1", "env1", "echo")
			if !r.Hit || r.Tool == nil {
				t.Error("expected stale value")
			}
			if r.NeedsRefresh {
				mu.Lock()
				refreshes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if refreshes != 1 {
		t.Fatalf("expected exactly 1 refresh signal, got %d", refreshes)
	}
}

func TestCache_InvalidateScope(t *testing.T) {
	c := NewToolCache(30 * time.Second)
	c.Set("team1", "env1", "echo", &store.Tool{})
	c.Set("team1", "env1", "echo_httpbin", &store.Tool{})
	c.Set("team1", "env2", "echo", &store.Tool{})

	c.InvalidateScope("team1", "env1")

	if c.Get("team1", "env1", "echo").Hit || c.Get("team1", "env1", "echo_httpbin").Hit {
		t.Fatal("expected env1 entries dropped")
	}
	if !c.Get("team1", "env2", "echo").Hit {
		t.Fatal("env2 entry should survive")
	}
}
