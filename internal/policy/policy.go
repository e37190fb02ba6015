// Package policy decides whether an agent key may call a tool.
package policy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/entrys/gateway/internal/store"
)

// Store is the subset of the repository the evaluator reads.
type Store interface {
	GetTool(ctx context.Context, teamID, id string) (*store.Tool, error)
	GetAgentKey(ctx context.Context, teamID, id string) (*store.AgentKey, error)
	ListPoliciesForTool(ctx context.Context, teamID, toolID string) ([]*store.ToolPolicy, error)
}

// Evaluator applies deny-overrides: any matching deny wins, then any matching
// allow, then the tool's allow_all_agents default.
type Evaluator struct {
	store    Store
	patterns sync.Map // glob -> *regexp.Regexp
}

// NewEvaluator creates an Evaluator reading from s.
func NewEvaluator(s Store) *Evaluator {
	return &Evaluator{store: s}
}

// IsAllowed reports whether the agent key may invoke the tool. An unknown tool
// or agent is denied. Repository errors deny and are returned for logging.
func (e *Evaluator) IsAllowed(ctx context.Context, teamID, toolID, agentKeyID string) (bool, error) {
	tool, err := e.store.GetTool(ctx, teamID, toolID)
	if err != nil {
		return false, fmt.Errorf("IsAllowed: %w", err)
	}
	if tool == nil {
		return false, nil
	}

	agent, err := e.store.GetAgentKey(ctx, teamID, agentKeyID)
	if err != nil {
		return false, fmt.Errorf("IsAllowed: %w", err)
	}
	if agent == nil {
		return false, nil
	}

	policies, err := e.store.ListPoliciesForTool(ctx, teamID, toolID)
	if err != nil {
		return false, fmt.Errorf("IsAllowed: %w", err)
	}

	return decide(tool.AllowAllAgents, policies, agent.ID, agent.Name, e.compile), nil
}

func decide(allowAll bool, policies []*store.ToolPolicy, agentID, agentName string,
	compile func(string) *regexp.Regexp) bool {
	allowed := false
	for _, p := range policies {
		if !matches(p, agentID, agentName, compile) {
			continue
		}
		switch p.Action {
		case store.ActionDeny:
			return false
		case store.ActionAllow:
			allowed = true
		}
	}
	if allowed {
		return true
	}
	return allowAll
}

func matches(p *store.ToolPolicy, agentID, agentName string, compile func(string) *regexp.Regexp) bool {
	if p.AgentKeyID != nil && *p.AgentKeyID == agentID {
		return true
	}
	if p.AgentNamePattern != nil && *p.AgentNamePattern != "" {
		return compile(*p.AgentNamePattern).MatchString(agentName)
	}
	return false
}

func (e *Evaluator) compile(glob string) *regexp.Regexp {
	if re, ok := e.patterns.Load(glob); ok {
		return re.(*regexp.Regexp)
	}
	re := GlobToRegexp(glob)
	e.patterns.Store(glob, re)
	return re
}

// GlobToRegexp turns a name glob into an anchored, case-insensitive regexp.
// Only * is special; every other character matches literally.
func GlobToRegexp(glob string) *regexp.Regexp {
	parts := strings.Split(glob, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile("(?i)^" + strings.Join(parts, ".*") + "$")
}
