package api

import (
	"database/sql"
	"net/http"

	"go.uber.org/zap"

	"github.com/entrys/gateway/internal/store"
)

func (d *Dependencies) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := d.Store.ListWebhooks(r.Context(), r.PathValue("team_id"))
	if err != nil {
		d.Logger.Error("failed to list webhooks", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list webhooks"})
		return
	}

	resp := make([]WebhookResp, 0, len(hooks))
	for _, h := range hooks {
		resp = append(resp, webhookToResp(h))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req CreateWebhookReq
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	hook, err := d.Store.CreateWebhook(r.Context(), r.PathValue("team_id"), req.Name, req.URL)
	if err != nil {
		d.Logger.Error("failed to create webhook", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create webhook"})
		return
	}
	writeJSON(w, http.StatusCreated, webhookToResp(hook))
}

func (d *Dependencies) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "webhook_id", "Webhook not found.")
	if !ok {
		return
	}

	var req UpdateWebhookReq
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}

	hook, err := d.Store.UpdateWebhook(r.Context(), r.PathValue("team_id"), id, store.UpdateWebhookParams{
		Name:      req.Name,
		URL:       req.URL,
		IsEnabled: req.IsEnabled,
	})
	if err != nil {
		d.Logger.Error("failed to update webhook", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to update webhook"})
		return
	}
	if hook == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Webhook not found."})
		return
	}
	writeJSON(w, http.StatusOK, webhookToResp(hook))
}

func (d *Dependencies) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "webhook_id", "Webhook not found.")
	if !ok {
		return
	}

	err := d.Store.DeleteWebhook(r.Context(), r.PathValue("team_id"), id)
	if err == sql.ErrNoRows {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Webhook not found."})
		return
	}
	if err != nil {
		d.Logger.Error("failed to delete webhook", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to delete webhook"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
