package api

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/entrys/gateway/internal/chread"
	"github.com/entrys/gateway/internal/store"
)

func (d *Dependencies) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.AuditFilter{
		ToolName:    q.Get("tool"),
		LogicalName: q.Get("logicalName"),
		Decision:    q.Get("decision"),
		AgentKeyID:  q.Get("agentKeyId"),
	}
	switch f.Decision {
	case "", "allow", "deny", "error":
	default:
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "decision must be one of allow, deny, error"})
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "limit must be a positive integer"})
			return
		}
		f.Limit = n
	}

	logs, err := d.Store.ListAuditLogs(r.Context(), r.PathValue("team_id"), f)
	if err != nil {
		d.Logger.Error("failed to list audit logs", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list audit logs"})
		return
	}

	resp := make([]AuditLogResp, 0, len(logs))
	for _, l := range logs {
		resp = append(resp, auditToResp(l))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Analytics is not configured"})
		return
	}

	days := chread.DefaultDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "days must be an integer"})
			return
		}
		days = n
	}

	summary, err := d.Reader.GetSummary(r.Context(), r.PathValue("team_id"), days)
	if err != nil {
		d.Logger.Error("failed to query analytics", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to query analytics"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
