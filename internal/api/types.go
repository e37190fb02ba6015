package api

import (
	"encoding/json"
	"time"

	"github.com/entrys/gateway/internal/store"
)

// ErrorResp is the error body of the admin API.
type ErrorResp struct {
	Detail string `json:"detail"`
}

// --- POST /v1/invoke/{toolName} ---

// InvokeRequest is the JSON body for an invocation. Context is accepted for
// client-side correlation and not forwarded to the backend.
type InvokeRequest struct {
	Input   any             `json:"input"`
	Params  map[string]any  `json:"params"`
	Context json.RawMessage `json:"context,omitempty"`
}

// --- Teams ---

type CreateTeamReq struct {
	Name string `json:"name" validate:"required,max=255"`
}

type TeamResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Environments []EnvResp `json:"environments,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type EnvResp struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// --- Tools ---

type CreateToolReq struct {
	EnvID            string            `json:"envId" validate:"required,uuid"`
	LogicalName      string            `json:"logicalName" validate:"required,toolname"`
	Version          string            `json:"version" validate:"required,max=64"`
	DisplayName      string            `json:"displayName" validate:"max=255"`
	Type             *string           `json:"type" validate:"omitempty,oneof=http mcp"`
	Method           *string           `json:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	URLTemplate      string            `json:"urlTemplate" validate:"required,max=2048"`
	Headers          map[string]string `json:"headers"`
	MCPToolName      *string           `json:"mcpToolName" validate:"omitempty,min=1,max=255"`
	AllowAllAgents   *bool             `json:"allowAllAgents"`
	RedactionEnabled *bool             `json:"redactionEnabled"`
	InputSchema      json.RawMessage   `json:"inputSchema"`
	IsActive         *bool             `json:"isActive"`
}

type UpdateToolReq struct {
	DisplayName      *string           `json:"displayName" validate:"omitempty,max=255"`
	Method           *string           `json:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	URLTemplate      *string           `json:"urlTemplate" validate:"omitempty,min=1,max=2048"`
	Headers          map[string]string `json:"headers"`
	MCPToolName      *string           `json:"mcpToolName" validate:"omitempty,min=1,max=255"`
	AllowAllAgents   *bool             `json:"allowAllAgents"`
	RedactionEnabled *bool             `json:"redactionEnabled"`
	InputSchema      json.RawMessage   `json:"inputSchema"`
}

type ToolResp struct {
	ID               string          `json:"id"`
	EnvID            string          `json:"envId"`
	LogicalName      string          `json:"logicalName"`
	Version          string          `json:"version"`
	DisplayName      string          `json:"displayName"`
	IsActive         bool            `json:"isActive"`
	Type             string          `json:"type"`
	Method           string          `json:"method"`
	URLTemplate      string          `json:"urlTemplate"`
	Headers          json.RawMessage `json:"headers"`
	MCPToolName      *string         `json:"mcpToolName"`
	AllowAllAgents   bool            `json:"allowAllAgents"`
	RedactionEnabled bool            `json:"redactionEnabled"`
	InputSchema      json.RawMessage `json:"inputSchema"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// --- Aliases ---

type CreateAliasReq struct {
	EnvID       string `json:"envId" validate:"required,uuid"`
	Alias       string `json:"alias" validate:"required,toolname"`
	LogicalName string `json:"logicalName" validate:"required,toolname"`
}

type AliasResp struct {
	ID          string    `json:"id"`
	EnvID       string    `json:"envId"`
	Alias       string    `json:"alias"`
	LogicalName string    `json:"logicalName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// --- Policies ---

type CreatePolicyReq struct {
	AgentKeyID       *string `json:"agentKeyId" validate:"required_without=AgentNamePattern,excluded_with=AgentNamePattern,omitempty,uuid"`
	AgentNamePattern *string `json:"agentNamePattern" validate:"omitempty,min=1,max=255"`
	Action           string  `json:"action" validate:"required,oneof=allow deny"`
}

type PolicyResp struct {
	ID               string    `json:"id"`
	ToolID           string    `json:"toolId"`
	AgentKeyID       *string   `json:"agentKeyId"`
	AgentNamePattern *string   `json:"agentNamePattern"`
	Action           string    `json:"action"`
	CreatedAt        time.Time `json:"createdAt"`
}

// --- Agent keys ---

type CreateAgentKeyReq struct {
	EnvID string `json:"envId" validate:"required,uuid"`
	Name  string `json:"name" validate:"required,max=255"`
}

type AgentKeyResp struct {
	ID         string     `json:"id"`
	EnvID      string     `json:"envId"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"keyPrefix"`
	IsRevoked  bool       `json:"isRevoked"`
	LastUsedAt *time.Time `json:"lastUsedAt"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// CreateAgentKeyResp includes the plaintext key (shown once).
type CreateAgentKeyResp struct {
	AgentKeyResp
	Key string `json:"key"`
}

// --- Webhooks ---

type CreateWebhookReq struct {
	Name string `json:"name" validate:"required,max=255"`
	URL  string `json:"url" validate:"required,http_url,max=2048"`
}

type UpdateWebhookReq struct {
	Name      *string `json:"name" validate:"omitempty,min=1,max=255"`
	URL       *string `json:"url" validate:"omitempty,http_url,max=2048"`
	IsEnabled *bool   `json:"isEnabled"`
}

type WebhookResp struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	IsEnabled bool      `json:"isEnabled"`
	CreatedAt time.Time `json:"createdAt"`
}

// --- Audit ---

type AuditLogResp struct {
	ID          string          `json:"id"`
	EnvID       string          `json:"envId"`
	RequestID   string          `json:"requestId"`
	AgentKeyID  *string         `json:"agentKeyId"`
	AgentLabel  string          `json:"agentLabel"`
	ToolName    string          `json:"toolName"`
	LogicalName *string         `json:"logicalName"`
	ToolVersion *string         `json:"toolVersion"`
	BackendType *string         `json:"backendType"`
	Decision    string          `json:"decision"`
	StatusCode  *int            `json:"statusCode"`
	LatencyMs   int             `json:"latencyMs"`
	Redactions  json.RawMessage `json:"redactions"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// --- Converters ---

func envToResp(e *store.Environment) EnvResp {
	return EnvResp{ID: e.ID, Name: e.Name, CreatedAt: e.CreatedAt}
}

func toolToResp(t *store.Tool) ToolResp {
	return ToolResp{
		ID:               t.ID,
		EnvID:            t.EnvID,
		LogicalName:      t.LogicalName,
		Version:          t.Version,
		DisplayName:      t.DisplayName,
		IsActive:         t.IsActive,
		Type:             t.Type,
		Method:           t.Method,
		URLTemplate:      t.URLTemplate,
		Headers:          t.HeadersJSON,
		MCPToolName:      t.MCPToolName,
		AllowAllAgents:   t.AllowAllAgents,
		RedactionEnabled: t.RedactionEnabled,
		InputSchema:      t.InputSchemaJSON,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func aliasToResp(a *store.ToolAlias) AliasResp {
	return AliasResp{ID: a.ID, EnvID: a.EnvID, Alias: a.Alias, LogicalName: a.LogicalName, CreatedAt: a.CreatedAt}
}

func policyToResp(p *store.ToolPolicy) PolicyResp {
	return PolicyResp{
		ID:               p.ID,
		ToolID:           p.ToolID,
		AgentKeyID:       p.AgentKeyID,
		AgentNamePattern: p.AgentNamePattern,
		Action:           p.Action,
		CreatedAt:        p.CreatedAt,
	}
}

func agentKeyToResp(k *store.AgentKey) AgentKeyResp {
	return AgentKeyResp{
		ID:         k.ID,
		EnvID:      k.EnvID,
		Name:       k.Name,
		KeyPrefix:  k.KeyPrefix,
		IsRevoked:  k.IsRevoked,
		LastUsedAt: k.LastUsedAt,
		CreatedAt:  k.CreatedAt,
	}
}

func webhookToResp(h *store.Webhook) WebhookResp {
	return WebhookResp{ID: h.ID, Name: h.Name, URL: h.URL, IsEnabled: h.IsEnabled, CreatedAt: h.CreatedAt}
}

func auditToResp(l *store.AuditLog) AuditLogResp {
	return AuditLogResp{
		ID:          l.ID,
		EnvID:       l.EnvID,
		RequestID:   l.RequestID,
		AgentKeyID:  l.AgentKeyID,
		AgentLabel:  l.AgentLabel,
		ToolName:    l.ToolName,
		LogicalName: l.LogicalName,
		ToolVersion: l.ToolVersion,
		BackendType: l.BackendType,
		Decision:    l.Decision,
		StatusCode:  l.StatusCode,
		LatencyMs:   l.LatencyMs,
		Redactions:  l.Redactions,
		CreatedAt:   l.CreatedAt,
	}
}
