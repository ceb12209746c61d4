package http

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"bankbridge/internal/domain/tenant"
	"bankbridge/internal/domain/webhook"
)

// EventDispatcher applies a validated webhook event.
type EventDispatcher interface {
	Dispatch(ctx context.Context, tenantID string, ev *webhook.Event) (webhook.Outcome, error)
}

type WebhookHandler struct {
	validator  *webhook.Validator
	dispatcher EventDispatcher
	tenants    *tenant.Registry
	webhookURL func(tenantID string) string
}

func NewWebhookHandler(validator *webhook.Validator, dispatcher EventDispatcher, tenants *tenant.Registry, webhookURL func(string) string) *WebhookHandler {
	return &WebhookHandler{
		validator:  validator,
		dispatcher: dispatcher,
		tenants:    tenants,
		webhookURL: webhookURL,
	}
}

type webhookAck struct {
	Status  string `json:"status"`
	Event   string `json:"event"`
	Company string `json:"company"`
}

// HandleWebhook serves POST /webhooks/revolut/{tenant}. Validation failures
// are answered with their status; once the request is authentic the
// provider always gets 200 and processing errors are only logged.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := r.PathValue("tenant")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			webhook.RecordRejected(r.Context(), "too_large")
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	canonical, err := h.validator.Validate(tenantID, body, r.Header.Get(webhook.SignatureHeader))
	if err != nil {
		status := webhook.StatusCode(err)
		log.Printf("Webhook %s: rejected with %d: %v", tenantID, status, err)
		webhook.RecordRejected(r.Context(), http.StatusText(status))
		writeError(w, status, err.Error())
		return
	}

	ack := webhookAck{Status: "received", Company: canonical}

	ev, err := webhook.ParseEvent(body)
	if err != nil {
		log.Printf("Webhook %s: %v", canonical, err)
		writeJSON(w, http.StatusOK, ack)
		return
	}
	ack.Event = string(ev.Type)

	if _, err := h.dispatcher.Dispatch(r.Context(), canonical, ev); err != nil {
		log.Printf("Webhook %s: failed to process %s: %v", canonical, ev.Type, err)
	}

	writeJSON(w, http.StatusOK, ack)
}

type webhookConfig struct {
	Tenant           string `json:"tenant"`
	URL              string `json:"url"`
	SecretConfigured bool   `json:"secret_configured"`
}

// HandleWebhookConfig lists the URL each tenant must register with the
// provider. Secrets are never returned.
func (h *WebhookHandler) HandleWebhookConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ids := h.tenants.IDs()
	out := make([]webhookConfig, 0, len(ids))
	for _, id := range ids {
		cred, _ := h.tenants.Get(id)
		out = append(out, webhookConfig{
			Tenant:           id,
			URL:              h.webhookURL(id),
			SecretConfigured: cred.WebhookSecret != "",
		})
	}
	writeJSON(w, http.StatusOK, out)
}
