package api

import (
	"net/http"

	"go.uber.org/zap"
)

func (d *Dependencies) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var req CreateTeamReq
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	team, envs, err := d.Store.CreateTeam(r.Context(), req.Name)
	if err != nil {
		d.Logger.Error("failed to create team", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create team"})
		return
	}

	resp := TeamResp{ID: team.ID, Name: team.Name, CreatedAt: team.CreatedAt}
	for _, e := range envs {
		resp.Environments = append(resp.Environments, envToResp(e))
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (d *Dependencies) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	envs, err := d.Store.ListEnvironments(r.Context(), r.PathValue("team_id"))
	if err != nil {
		d.Logger.Error("failed to list environments", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list environments"})
		return
	}

	resp := make([]EnvResp, 0, len(envs))
	for _, e := range envs {
		resp = append(resp, envToResp(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// pathID returns the named path segment if it is a UUID, writing a 404 with
// the given detail otherwise.
func pathID(w http.ResponseWriter, r *http.Request, name, notFound string) (string, bool) {
	id := r.PathValue(name)
	if !isUUID(id) {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: notFound})
		return "", false
	}
	return id, true
}

// envOfTeam checks that envID names one of the team's environments.
func (d *Dependencies) envOfTeam(w http.ResponseWriter, r *http.Request, teamID, envID string) bool {
	env, err := d.Store.GetEnvironment(r.Context(), teamID, envID)
	if err != nil {
		d.Logger.Error("failed to get environment", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get environment"})
		return false
	}
	if env == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Environment not found."})
		return false
	}
	return true
}

func (d *Dependencies) invalidateTools(teamID, envID string) {
	if d.ToolCache != nil {
		d.ToolCache.Invalidate(teamID, envID)
	}
}
