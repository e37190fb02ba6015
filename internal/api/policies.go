package api

import (
	"database/sql"
	"net/http"

	"go.uber.org/zap"

	"github.com/entrys/gateway/internal/store"
)

func (d *Dependencies) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	toolID, ok := pathID(w, r, "tool_id", toolNotFound)
	if !ok {
		return
	}
	policies, err := d.Store.ListPoliciesForTool(r.Context(), r.PathValue("team_id"), toolID)
	if err != nil {
		d.Logger.Error("failed to list policies", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list policies"})
		return
	}

	resp := make([]PolicyResp, 0, len(policies))
	for _, p := range policies {
		resp = append(resp, policyToResp(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	toolID, ok := pathID(w, r, "tool_id", toolNotFound)
	if !ok {
		return
	}

	var req CreatePolicyReq
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	policy, err := d.Store.CreatePolicy(r.Context(), r.PathValue("team_id"), store.CreatePolicyParams{
		ToolID:           toolID,
		AgentKeyID:       req.AgentKeyID,
		AgentNamePattern: req.AgentNamePattern,
		Action:           req.Action,
	})
	if err != nil {
		d.Logger.Error("failed to create policy", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create policy"})
		return
	}
	if policy == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: toolNotFound})
		return
	}
	writeJSON(w, http.StatusCreated, policyToResp(policy))
}

func (d *Dependencies) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "policy_id", "Policy not found.")
	if !ok {
		return
	}
	err := d.Store.DeletePolicy(r.Context(), r.PathValue("team_id"), id)
	if err == sql.ErrNoRows {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Policy not found."})
		return
	}
	if err != nil {
		d.Logger.Error("failed to delete policy", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to delete policy"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
