package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/entrys/gateway/internal/store"
)

func (d *Dependencies) handleListAliases(w http.ResponseWriter, r *http.Request) {
	envID := r.URL.Query().Get("env_id")
	if envID != "" && !isUUID(envID) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "env_id must be a UUID"})
		return
	}

	aliases, err := d.Store.ListAliases(r.Context(), r.PathValue("team_id"), envID)
	if err != nil {
		d.Logger.Error("failed to list aliases", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list aliases"})
		return
	}

	resp := make([]AliasResp, 0, len(aliases))
	for _, a := range aliases {
		resp = append(resp, aliasToResp(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleCreateAlias(w http.ResponseWriter, r *http.Request) {
	teamID := r.PathValue("team_id")

	var req CreateAliasReq
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if req.Alias == req.LogicalName {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "alias must differ from logicalName"})
		return
	}
	if !d.envOfTeam(w, r, teamID, req.EnvID) {
		return
	}

	alias, err := d.Store.CreateAlias(r.Context(), teamID, req.EnvID, req.Alias, req.LogicalName)
	if err != nil {
		if store.IsUniqueViolation(err) {
			writeJSON(w, http.StatusConflict, ErrorResp{Detail: "Alias already exists in this environment"})
			return
		}
		d.Logger.Error("failed to create alias", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create alias"})
		return
	}

	d.invalidateTools(teamID, alias.EnvID)
	writeJSON(w, http.StatusCreated, aliasToResp(alias))
}

func (d *Dependencies) handleDeleteAlias(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "alias_id", "Alias not found.")
	if !ok {
		return
	}
	teamID := r.PathValue("team_id")

	alias, err := d.Store.DeleteAlias(r.Context(), teamID, id)
	if err != nil {
		d.Logger.Error("failed to delete alias", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to delete alias"})
		return
	}
	if alias == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Alias not found."})
		return
	}
	d.invalidateTools(teamID, alias.EnvID)
	w.WriteHeader(http.StatusNoContent)
}
