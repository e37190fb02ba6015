package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/entrys/gateway/internal/auth"
	"github.com/entrys/gateway/internal/chread"
	"github.com/entrys/gateway/internal/invoke"
	"github.com/entrys/gateway/internal/store"
)

// Invoker runs the invocation pipeline.
type Invoker interface {
	Invoke(ctx context.Context, call invoke.Call) *invoke.Response
}

// KeyEvictor drops cached credentials of a revoked agent key.
type KeyEvictor interface {
	Evict(agentKeyID string)
}

// ToolCache drops resolved tools after an admin write.
type ToolCache interface {
	Invalidate(teamID, envID string)
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Store     *store.Store
	Invoker   Invoker
	Auth      auth.Authenticator
	Evictor   KeyEvictor     // nil if credentials are not cached
	ToolCache ToolCache      // nil if resolution is not cached
	Reader    *chread.Reader // nil if ClickHouse unavailable
	AdminKey  string         // empty disables the admin API
	Logger    *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, instrument(pattern, h))
	}
	admin := func(pattern string, h http.HandlerFunc) {
		handle(pattern, deps.adminOnly(h))
	}

	// Invocation (agent key required)
	handle("POST /v1/invoke/{toolName}", deps.agentAuth(deps.handleInvoke))

	// Admin API (x-admin-key required)
	admin("POST /api/teams", deps.handleCreateTeam)
	admin("GET /api/teams/{team_id}/environments", deps.handleListEnvironments)

	admin("GET /api/teams/{team_id}/tools", deps.handleListTools)
	admin("POST /api/teams/{team_id}/tools", deps.handleCreateTool)
	admin("GET /api/teams/{team_id}/tools/{tool_id}", deps.handleGetTool)
	admin("PATCH /api/teams/{team_id}/tools/{tool_id}", deps.handleUpdateTool)
	admin("DELETE /api/teams/{team_id}/tools/{tool_id}", deps.handleDeleteTool)
	admin("POST /api/teams/{team_id}/tools/{tool_id}/activate", deps.handleActivateTool)
	admin("POST /api/teams/{team_id}/tools/{tool_id}/deactivate", deps.handleDeactivateTool)

	admin("GET /api/teams/{team_id}/tools/{tool_id}/policies", deps.handleListPolicies)
	admin("POST /api/teams/{team_id}/tools/{tool_id}/policies", deps.handleCreatePolicy)
	admin("DELETE /api/teams/{team_id}/policies/{policy_id}", deps.handleDeletePolicy)

	admin("GET /api/teams/{team_id}/aliases", deps.handleListAliases)
	admin("POST /api/teams/{team_id}/aliases", deps.handleCreateAlias)
	admin("DELETE /api/teams/{team_id}/aliases/{alias_id}", deps.handleDeleteAlias)

	admin("GET /api/teams/{team_id}/agent-keys", deps.handleListAgentKeys)
	admin("POST /api/teams/{team_id}/agent-keys", deps.handleCreateAgentKey)
	admin("POST /api/teams/{team_id}/agent-keys/{key_id}/revoke", deps.handleRevokeAgentKey)

	admin("GET /api/teams/{team_id}/webhooks", deps.handleListWebhooks)
	admin("POST /api/teams/{team_id}/webhooks", deps.handleCreateWebhook)
	admin("PATCH /api/teams/{team_id}/webhooks/{webhook_id}", deps.handleUpdateWebhook)
	admin("DELETE /api/teams/{team_id}/webhooks/{webhook_id}", deps.handleDeleteWebhook)

	admin("GET /api/teams/{team_id}/audit-logs", deps.handleListAuditLogs)
	admin("GET /api/teams/{team_id}/analytics", deps.handleGetAnalytics)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
