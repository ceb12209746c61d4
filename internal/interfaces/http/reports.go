package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"bankbridge/internal/domain/banksync"
	"bankbridge/internal/domain/tenant"
)

type Reporter interface {
	Stats(ctx context.Context, tenantID string) (*banksync.Stats, error)
	Unmatched(ctx context.Context, tenantID string, olderThan time.Duration) (*banksync.UnmatchedReport, error)
}

// ReportHandler serves the read-only operator reports under /api.
type ReportHandler struct {
	reports Reporter
	tenants *tenant.Registry
}

func NewReportHandler(reports Reporter, tenants *tenant.Registry) *ReportHandler {
	return &ReportHandler{reports: reports, tenants: tenants}
}

// HandleStats serves GET /api/sync/stats?tenant=. Without a tenant every
// configured tenant is reported.
func (h *ReportHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	tenants, ok := h.selectTenants(w, r)
	if !ok {
		return
	}

	out := make([]*banksync.Stats, 0, len(tenants))
	for _, tenantID := range tenants {
		stats, err := h.reports.Stats(r.Context(), tenantID)
		if err != nil {
			log.Printf("Admin: stats for tenant %s failed: %v", tenantID, err)
			writeError(w, http.StatusInternalServerError, "Failed to compute sync stats")
			return
		}
		out = append(out, stats)
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleUnmatched serves GET /api/alerts/unmatched?tenant=&older_than=.
// older_than is a Go duration and defaults to banksync.DefaultUnmatchedAge.
func (h *ReportHandler) HandleUnmatched(w http.ResponseWriter, r *http.Request) {
	olderThan := banksync.DefaultUnmatchedAge
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "older_than must be a non-negative duration such as 48h")
			return
		}
		olderThan = d
	}

	tenants, ok := h.selectTenants(w, r)
	if !ok {
		return
	}

	out := make([]*banksync.UnmatchedReport, 0, len(tenants))
	for _, tenantID := range tenants {
		report, err := h.reports.Unmatched(r.Context(), tenantID, olderThan)
		if err != nil {
			log.Printf("Admin: unmatched report for tenant %s failed: %v", tenantID, err)
			writeError(w, http.StatusInternalServerError, "Failed to build unmatched report")
			return
		}
		if report.Count > 0 {
			log.Printf("Admin: tenant %s has %d unmatched transactions older than %s", tenantID, report.Count, olderThan)
		}
		out = append(out, report)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ReportHandler) selectTenants(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	raw := r.URL.Query().Get("tenant")
	if raw == "" {
		return h.tenants.IDs(), true
	}
	cred, ok := h.tenants.Get(raw)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown tenant")
		return nil, false
	}
	return []string{cred.TenantID}, true
}
