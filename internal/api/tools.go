package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/entrys/gateway/internal/dispatch"
	"github.com/entrys/gateway/internal/store"
)

const toolNotFound = "Tool not found."

func (d *Dependencies) handleListTools(w http.ResponseWriter, r *http.Request) {
	envID := r.URL.Query().Get("env_id")
	if envID != "" && !isUUID(envID) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "env_id must be a UUID"})
		return
	}

	tools, err := d.Store.ListTools(r.Context(), r.PathValue("team_id"), envID)
	if err != nil {
		d.Logger.Error("failed to list tools", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list tools"})
		return
	}

	resp := make([]ToolResp, 0, len(tools))
	for _, t := range tools {
		resp = append(resp, toolToResp(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleGetTool(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tool_id", toolNotFound)
	if !ok {
		return
	}
	tool, err := d.Store.GetTool(r.Context(), r.PathValue("team_id"), id)
	if err != nil {
		d.Logger.Error("failed to get tool", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get tool"})
		return
	}
	if tool == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: toolNotFound})
		return
	}
	writeJSON(w, http.StatusOK, toolToResp(tool))
}

func (d *Dependencies) handleCreateTool(w http.ResponseWriter, r *http.Request) {
	teamID := r.PathValue("team_id")

	var req CreateToolReq
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if req.Type != nil && *req.Type == store.ToolTypeMCP && req.Method != nil && *req.Method != http.MethodPost {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "MCP tools are always called with POST"})
		return
	}
	schema, ok := checkSchema(w, req.InputSchema)
	if !ok {
		return
	}
	headers, err := headersJSON(req.Headers)
	if err != nil {
		badRequest(w, err)
		return
	}
	if !d.envOfTeam(w, r, teamID, req.EnvID) {
		return
	}

	tool, err := d.Store.CreateTool(r.Context(), store.CreateToolParams{
		TeamID:           teamID,
		EnvID:            req.EnvID,
		LogicalName:      req.LogicalName,
		Version:          req.Version,
		DisplayName:      req.DisplayName,
		Type:             req.Type,
		Method:           req.Method,
		URLTemplate:      req.URLTemplate,
		HeadersJSON:      headers,
		MCPToolName:      req.MCPToolName,
		AllowAllAgents:   req.AllowAllAgents,
		RedactionEnabled: req.RedactionEnabled,
		InputSchemaJSON:  schema,
		IsActive:         req.IsActive,
	})
	if store.IsUniqueViolation(err) {
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: "This tool version already exists"})
		return
	}
	if err != nil {
		d.Logger.Error("failed to create tool", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create tool"})
		return
	}

	d.invalidateTools(teamID, tool.EnvID)
	writeJSON(w, http.StatusCreated, toolToResp(tool))
}

func (d *Dependencies) handleUpdateTool(w http.ResponseWriter, r *http.Request) {
	teamID := r.PathValue("team_id")
	id, ok := pathID(w, r, "tool_id", toolNotFound)
	if !ok {
		return
	}

	var req UpdateToolReq
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	schema, ok := checkSchema(w, req.InputSchema)
	if !ok {
		return
	}
	headers, err := headersJSON(req.Headers)
	if err != nil {
		badRequest(w, err)
		return
	}

	tool, err := d.Store.UpdateTool(r.Context(), teamID, id, store.UpdateToolParams{
		DisplayName:      req.DisplayName,
		Method:           req.Method,
		URLTemplate:      req.URLTemplate,
		HeadersJSON:      headers,
		MCPToolName:      req.MCPToolName,
		AllowAllAgents:   req.AllowAllAgents,
		RedactionEnabled: req.RedactionEnabled,
		InputSchemaJSON:  schema,
	})
	d.finishToolWrite(w, teamID, tool, err, "update")
}

func (d *Dependencies) handleActivateTool(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tool_id", toolNotFound)
	if !ok {
		return
	}
	teamID := r.PathValue("team_id")
	tool, err := d.Store.ActivateTool(r.Context(), teamID, id)
	d.finishToolWrite(w, teamID, tool, err, "activate")
}

func (d *Dependencies) handleDeactivateTool(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tool_id", toolNotFound)
	if !ok {
		return
	}
	teamID := r.PathValue("team_id")
	tool, err := d.Store.DeactivateTool(r.Context(), teamID, id)
	d.finishToolWrite(w, teamID, tool, err, "deactivate")
}

func (d *Dependencies) handleDeleteTool(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tool_id", toolNotFound)
	if !ok {
		return
	}
	teamID := r.PathValue("team_id")
	tool, err := d.Store.DeleteTool(r.Context(), teamID, id)
	if err != nil {
		d.Logger.Error("failed to delete tool", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to delete tool"})
		return
	}
	if tool == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: toolNotFound})
		return
	}
	d.invalidateTools(teamID, tool.EnvID)
	w.WriteHeader(http.StatusNoContent)
}

// finishToolWrite answers a tool mutation and drops the environment's cached
// resolutions.
func (d *Dependencies) finishToolWrite(w http.ResponseWriter, teamID string, tool *store.Tool, err error, op string) {
	if err != nil {
		d.Logger.Error("failed to "+op+" tool", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to " + op + " tool"})
		return
	}
	if tool == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: toolNotFound})
		return
	}
	d.invalidateTools(teamID, tool.EnvID)
	writeJSON(w, http.StatusOK, toolToResp(tool))
}

// checkSchema rejects an input schema that does not compile. Absent or null
// schemas pass as nil.
func checkSchema(w http.ResponseWriter, raw json.RawMessage) (json.RawMessage, bool) {
	raw = rawJSON(raw)
	if raw == nil {
		return nil, true
	}
	if _, err := dispatch.CompileSchema(raw); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "inputSchema is not a valid JSON Schema: " + err.Error()})
		return nil, false
	}
	return raw, true
}

func headersJSON(h map[string]string) (json.RawMessage, error) {
	if h == nil {
		return nil, nil
	}
	return json.Marshal(h)
}
