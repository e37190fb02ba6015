package api

import (
	"net/http"

	"go.uber.org/zap"
)

func (d *Dependencies) handleListAgentKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := d.Store.ListAgentKeys(r.Context(), r.PathValue("team_id"))
	if err != nil {
		d.Logger.Error("failed to list agent keys", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list agent keys"})
		return
	}

	resp := make([]AgentKeyResp, 0, len(keys))
	for _, k := range keys {
		resp = append(resp, agentKeyToResp(k))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleCreateAgentKey(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentKeyReq
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	key, plaintext, err := d.Store.CreateAgentKey(r.Context(), r.PathValue("team_id"), req.EnvID, req.Name)
	if err != nil {
		d.Logger.Error("failed to create agent key", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create agent key"})
		return
	}
	if key == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Environment not found."})
		return
	}

	writeJSON(w, http.StatusCreated, CreateAgentKeyResp{
		AgentKeyResp: agentKeyToResp(key),
		Key:          plaintext,
	})
}

func (d *Dependencies) handleRevokeAgentKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "key_id", "Agent key not found.")
	if !ok {
		return
	}

	key, err := d.Store.RevokeAgentKey(r.Context(), r.PathValue("team_id"), id)
	if err != nil {
		d.Logger.Error("failed to revoke agent key", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to revoke agent key"})
		return
	}
	if key == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Agent key not found."})
		return
	}

	if d.Evictor != nil {
		d.Evictor.Evict(key.ID)
	}
	d.Logger.Info("agent key revoked", zap.String("agent_key_id", key.ID), zap.String("key_prefix", key.KeyPrefix))
	writeJSON(w, http.StatusOK, agentKeyToResp(key))
}
