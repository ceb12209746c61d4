package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"bankbridge/internal/domain/banking"
	"bankbridge/internal/domain/banksync"
	"bankbridge/internal/domain/credential"
	"bankbridge/internal/domain/reconciliation"
	"bankbridge/internal/domain/store"
	"bankbridge/internal/domain/tenant"
	"bankbridge/internal/infrastructure/bankapi"
)

const defaultJobListLimit = 50

type TokenAdmin interface {
	Statuses(ctx context.Context) []credential.TokenStatus
	Status(ctx context.Context, tenantID string) credential.TokenStatus
	ForceRefresh(ctx context.Context, tenantID string) error
}

type JobRunner interface {
	Run(ctx context.Context, jobType banksync.JobType, tenantID string) (*banksync.SyncJob, error)
}

type JobLister interface {
	List(ctx context.Context, tenantID string, limit int) ([]*banksync.SyncJob, error)
}

type ManualMatcher interface {
	ManualMatch(ctx context.Context, tenantID, transactionID, invoiceID string) (*banking.ReconciliationMatch, error)
}

// AdminHandler serves the operator endpoints under /api. Every route is
// expected to sit behind middleware.AdminAuth.
type AdminHandler struct {
	tokens  TokenAdmin
	runner  JobRunner
	jobs    JobLister
	matcher ManualMatcher
	tenants *tenant.Registry
}

func NewAdminHandler(tokens TokenAdmin, runner JobRunner, jobs JobLister, matcher ManualMatcher, tenants *tenant.Registry) *AdminHandler {
	return &AdminHandler{
		tokens:  tokens,
		runner:  runner,
		jobs:    jobs,
		matcher: matcher,
		tenants: tenants,
	}
}

// HandleTokens serves GET /api/tokens.
func (h *AdminHandler) HandleTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.tokens.Statuses(r.Context()))
}

// HandleRefreshToken serves POST /api/tokens/{tenant}/refresh.
func (h *AdminHandler) HandleRefreshToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tenantID, ok := h.resolveTenant(w, r)
	if !ok {
		return
	}

	if err := h.tokens.ForceRefresh(r.Context(), tenantID); err != nil {
		log.Printf("Admin: token refresh for tenant %s failed: %v", tenantID, err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.tokens.Status(r.Context(), tenantID))
}

// HandleRunSync serves POST /api/sync/{tenant}/{jobType}. The job runs
// synchronously and the finalized SyncJob is returned.
func (h *AdminHandler) HandleRunSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tenantID, ok := h.resolveTenant(w, r)
	if !ok {
		return
	}
	jobType, err := banksync.ParseJobType(r.PathValue("jobType"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.runner.Run(r.Context(), jobType, tenantID)
	if job == nil {
		log.Printf("Admin: could not start %s for tenant %s: %v", jobType, tenantID, err)
		writeError(w, http.StatusInternalServerError, "Failed to start sync job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleListJobs serves GET /api/sync/jobs?tenant=&limit=.
func (h *AdminHandler) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := r.URL.Query().Get("tenant")
	if tenantID != "" {
		cred, ok := h.tenants.Get(tenantID)
		if !ok {
			writeError(w, http.StatusNotFound, "Unknown tenant")
			return
		}
		tenantID = cred.TenantID
	}

	limit := defaultJobListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	jobs, err := h.jobs.List(r.Context(), tenantID, limit)
	if err != nil {
		log.Printf("Admin: failed to list sync jobs: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to list sync jobs")
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

type manualMatchRequest struct {
	TransactionID string `json:"transaction_id"`
	InvoiceID     string `json:"invoice_id"`
}

// HandleManualMatch serves POST /api/reconcile/{tenant}/manual.
func (h *AdminHandler) HandleManualMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tenantID, ok := h.resolveTenant(w, r)
	if !ok {
		return
	}

	var req manualMatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TransactionID == "" || req.InvoiceID == "" {
		writeError(w, http.StatusBadRequest, "transaction_id and invoice_id are required")
		return
	}

	match, err := h.matcher.ManualMatch(r.Context(), tenantID, req.TransactionID, req.InvoiceID)
	if err != nil {
		log.Printf("Admin: manual match for tenant %s failed: %v", tenantID, err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, match)
}

func (h *AdminHandler) resolveTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	cred, ok := h.tenants.Get(r.PathValue("tenant"))
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown tenant")
		return "", false
	}
	return cred.TenantID, true
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	var (
		credErr *credential.CredentialError
		authErr *credential.AuthError
		netErr  *bankapi.NetworkError
		rateErr *bankapi.RateLimitError
	)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, credential.ErrUnknownTenant):
		return http.StatusNotFound
	case errors.Is(err, reconciliation.ErrAlreadyReconciled):
		return http.StatusConflict
	case errors.As(err, &credErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &authErr), errors.As(err, &netErr):
		return http.StatusBadGateway
	case errors.As(err, &rateErr):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
