// Package registry resolves caller-supplied tool names to the active tool version.
package registry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/entrys/gateway/internal/store"
)

// Store abstracts the alias and tool lookups for testability.
type Store interface {
	FindAlias(ctx context.Context, teamID, envID, alias string) (*store.ToolAlias, error)
	FindActiveTool(ctx context.Context, teamID, envID, logicalName string) (*store.Tool, error)
}

// Resolver maps alias or logical name to the active version. Aliases are one
// level deep: an alias target is always treated as a logical name.
type Resolver struct {
	store  Store
	cache  *ToolCache // nil disables caching
	logger *zap.Logger
}

// NewResolver creates a Resolver. A zero cacheTTL always reads through.
func NewResolver(s Store, cacheTTL time.Duration, logger *zap.Logger) *Resolver {
	r := &Resolver{store: s, logger: logger}
	if cacheTTL > 0 {
		r.cache = NewToolCache(cacheTTL)
	}
	return r
}

// ResolveActiveVersion returns the active tool for nameOrAlias, or nil when the
// name is unknown, the alias dangles, or no version is active.
func (r *Resolver) ResolveActiveVersion(ctx context.Context, nameOrAlias, envID, teamID string) (*store.Tool, error) {
	if r.cache != nil {
		res := r.cache.Get(teamID, envID, nameOrAlias)
		if res.Hit {
			if res.NeedsRefresh {
				go r.refreshInBackground(nameOrAlias, envID, teamID)
			}
			return res.Tool, nil
		}
	}

	tool, err := r.lookup(ctx, nameOrAlias, envID, teamID)
	if err != nil {
		return nil, fmt.Errorf("ResolveActiveVersion: %w", err)
	}
	if r.cache != nil {
		r.cache.Set(teamID, envID, nameOrAlias, tool)
	}
	return tool, nil
}

// Invalidate drops cached resolutions for a team environment after admin writes.
func (r *Resolver) Invalidate(teamID, envID string) {
	if r.cache != nil {
		r.cache.InvalidateScope(teamID, envID)
	}
}

func (r *Resolver) lookup(ctx context.Context, nameOrAlias, envID, teamID string) (*store.Tool, error) {
	logicalName := nameOrAlias
	alias, err := r.store.FindAlias(ctx, teamID, envID, nameOrAlias)
	if err != nil {
		return nil, err
	}
	if alias != nil {
		logicalName = alias.LogicalName
	}
	return r.store.FindActiveTool(ctx, teamID, envID, logicalName)
}

func (r *Resolver) refreshInBackground(nameOrAlias, envID, teamID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tool, err := r.lookup(ctx, nameOrAlias, envID, teamID)
	if err != nil {
		r.logger.Warn("background tool resolution refresh failed",
			zap.String("team_id", teamID),
			zap.String("env_id", envID),
			zap.String("tool_name", nameOrAlias),
			zap.Error(err),
		)
		// Next call reads through instead of serving the stale entry forever.
		r.cache.Delete(teamID, envID, nameOrAlias)
		return
	}
	r.cache.Set(teamID, envID, nameOrAlias, tool)
}
