package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bankbridge/internal/domain/tenant"
	"bankbridge/internal/domain/webhook"
)

type MockDispatcher struct {
	DispatchFunc func(ctx context.Context, tenantID string, ev *webhook.Event) (webhook.Outcome, error)
	calls        int
}

func (m *MockDispatcher) Dispatch(ctx context.Context, tenantID string, ev *webhook.Event) (webhook.Outcome, error) {
	m.calls++
	if m.DispatchFunc != nil {
		return m.DispatchFunc(ctx, tenantID, ev)
	}
	return webhook.OutcomeCreated, nil
}

func testTenants() *tenant.Registry {
	return tenant.NewRegistry([]tenant.Credential{
		{TenantID: "acme", ClientID: "c1", WebhookSecret: "s3cret"},
		{TenantID: "globex", ClientID: "c2"},
	})
}

func newWebhookMux(d EventDispatcher) *http.ServeMux {
	tenants := testTenants()
	h := NewWebhookHandler(webhook.NewValidator(tenants), d, tenants, func(id string) string {
		return "https://bridge.example.com/webhooks/revolut/" + id
	})
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/revolut/{tenant}", h.HandleWebhook)
	mux.HandleFunc("GET /webhooks/config", h.HandleWebhookConfig)
	return mux
}

func TestHandleWebhook(t *testing.T) {
	body := `{"event":"TransactionCreated","timestamp":"2024-03-01T12:00:00Z","data":{"id":"tx_1"}}`

	tests := []struct {
		name           string
		tenant         string
		body           string
		signature      string
		dispatchErr    error
		expectedStatus int
		expectDispatch bool
	}{
		{"valid", "acme", body, webhook.Sign("s3cret", []byte(body)), nil, http.StatusOK, true},
		{"dispatch failure still acknowledged", "acme", body, webhook.Sign("s3cret", []byte(body)), errors.New("store down"), http.StatusOK, true},
		{"unknown tenant", "initech", body, webhook.Sign("s3cret", []byte(body)), nil, http.StatusNotFound, false},
		{"secret not configured", "globex", body, webhook.Sign("", []byte(body)), nil, http.StatusInternalServerError, false},
		{"bad signature", "acme", body, webhook.Sign("wrong", []byte(body)), nil, http.StatusUnauthorized, false},
		{"missing signature", "acme", body, "", nil, http.StatusUnauthorized, false},
		{"unparseable but signed", "acme", "not json", webhook.Sign("s3cret", []byte("not json")), nil, http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &MockDispatcher{
				DispatchFunc: func(ctx context.Context, tenantID string, ev *webhook.Event) (webhook.Outcome, error) {
					return webhook.OutcomeCreated, tt.dispatchErr
				},
			}
			mux := newWebhookMux(d)

			req := httptest.NewRequest(http.MethodPost, "/webhooks/revolut/"+tt.tenant, strings.NewReader(tt.body))
			if tt.signature != "" {
				req.Header.Set(webhook.SignatureHeader, tt.signature)
			}
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tt.expectedStatus, rr.Body.String())
			}
			if (d.calls > 0) != tt.expectDispatch {
				t.Errorf("dispatch calls = %d, expectDispatch %v", d.calls, tt.expectDispatch)
			}
		})
	}
}

func TestHandleWebhook_AckBody(t *testing.T) {
	body := `{"event":"PaymentCompleted","data":{"id":"tx_9"}}`
	mux := newWebhookMux(&MockDispatcher{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/revolut/ACME", strings.NewReader(body))
	req.Header.Set(webhook.SignatureHeader, webhook.Sign("s3cret", []byte(body)))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	var ack webhookAck
	if err := json.NewDecoder(rr.Body).Decode(&ack); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := webhookAck{Status: "received", Event: "PaymentCompleted", Company: "acme"}
	if ack != want {
		t.Errorf("ack = %+v, want %+v", ack, want)
	}
}

func TestHandleWebhook_BodyTooLarge(t *testing.T) {
	d := &MockDispatcher{}
	mux := newWebhookMux(d)

	big := strings.Repeat("a", MaxBodyBytes+1)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/revolut/acme", strings.NewReader(big))
	req.Header.Set(webhook.SignatureHeader, webhook.Sign("s3cret", []byte(big)))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusRequestEntityTooLarge)
	}
	if d.calls != 0 {
		t.Error("oversized body was dispatched")
	}
}

func TestHandleWebhookConfig(t *testing.T) {
	mux := newWebhookMux(&MockDispatcher{})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/webhooks/config", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "s3cret") {
		t.Fatal("response leaks a webhook secret")
	}

	var got []webhookConfig
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d tenants, want 2", len(got))
	}
	if got[0].Tenant != "acme" || !got[0].SecretConfigured || got[0].URL != "https://bridge.example.com/webhooks/revolut/acme" {
		t.Errorf("acme config = %+v", got[0])
	}
	if got[1].Tenant != "globex" || got[1].SecretConfigured {
		t.Errorf("globex config = %+v", got[1])
	}
}

func TestHandleHealth(t *testing.T) {
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	h := NewHealthHandler(started)
	h.now = func() time.Time { return started.Add(90 * time.Second) }

	rr := httptest.NewRecorder()
	h.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	var got healthResponse
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "ok" || got.UptimeSeconds != 90 || !got.StartedAt.Equal(started) {
		t.Errorf("health = %+v", got)
	}
}
