package api

import (
	"net/http"

	apperrors "github.com/rcourtman/pdfforge/internal/errors"
	"github.com/rcourtman/pdfforge/internal/webhooks"
)

// webhookUpdate accepts both the short field names and the webhook_ prefixed
// names used by older dashboard clients.
type webhookUpdate struct {
	URL            *string `json:"url"`
	Enabled        *bool   `json:"enabled"`
	WebhookURL     *string `json:"webhook_url"`
	WebhookEnabled *bool   `json:"webhook_enabled"`
}

type webhookResponse struct {
	webhooks.ConfigView
	Secret string `json:"secret,omitempty"`
}

func (r *Router) handleGetWebhook(w http.ResponseWriter, req *http.Request) {
	view, err := r.Webhooks.Get(req.Context(), principal(req).ID)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (r *Router) handlePutWebhook(w http.ResponseWriter, req *http.Request) {
	var body webhookUpdate
	if err := decodeJSON(w, req, &body); err != nil {
		writeError(w, req, err)
		return
	}
	u := webhooks.ConfigUpdate{URL: body.URL, Enabled: body.Enabled}
	if u.URL == nil {
		u.URL = body.WebhookURL
	}
	if u.Enabled == nil {
		u.Enabled = body.WebhookEnabled
	}
	if u.URL == nil && u.Enabled == nil {
		writeError(w, req, apperrors.InvalidInput("update_webhook", "Provide url or enabled"))
		return
	}

	p := principal(req)
	view, secret, err := r.Webhooks.Set(req.Context(), p.ID, p.Tier, u)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{ConfigView: view, Secret: secret})
}

func (r *Router) handleDeleteWebhook(w http.ResponseWriter, req *http.Request) {
	if err := r.Webhooks.Delete(req.Context(), principal(req).ID); err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (r *Router) handleWebhookDeliveries(w http.ResponseWriter, req *http.Request) {
	limit, err := intParam(req.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, req, apperrors.InvalidInput("list_deliveries", "limit must be an integer"))
		return
	}
	out, err := r.Webhooks.Deliveries(req.Context(), principal(req).ID, limit)
	if err != nil {
		writeError(w, req, err)
		return
	}
	if out == nil {
		out = []webhooks.DeliveryView{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": out})
}
