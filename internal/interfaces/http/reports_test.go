package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bankbridge/internal/domain/banksync"
)

type MockReporter struct {
	StatsFunc     func(ctx context.Context, tenantID string) (*banksync.Stats, error)
	UnmatchedFunc func(ctx context.Context, tenantID string, olderThan time.Duration) (*banksync.UnmatchedReport, error)
}

func (m *MockReporter) Stats(ctx context.Context, tenantID string) (*banksync.Stats, error) {
	return m.StatsFunc(ctx, tenantID)
}

func (m *MockReporter) Unmatched(ctx context.Context, tenantID string, olderThan time.Duration) (*banksync.UnmatchedReport, error) {
	return m.UnmatchedFunc(ctx, tenantID, olderThan)
}

func newReportMux(m *MockReporter) *http.ServeMux {
	h := NewReportHandler(m, testTenants())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sync/stats", h.HandleStats)
	mux.HandleFunc("GET /api/alerts/unmatched", h.HandleUnmatched)
	return mux
}

func TestHandleStats(t *testing.T) {
	tests := []struct {
		name           string
		query          string
		statsErr       error
		expectedStatus int
		expectedIDs    []string
	}{
		{"all tenants", "", nil, http.StatusOK, []string{"acme", "globex"}},
		{"one tenant normalized", "?tenant=ACME", nil, http.StatusOK, []string{"acme"}},
		{"unknown tenant", "?tenant=nobody", nil, http.StatusNotFound, nil},
		{"store failure", "?tenant=acme", errors.New("db down"), http.StatusInternalServerError, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newReportMux(&MockReporter{
				StatsFunc: func(ctx context.Context, tenantID string) (*banksync.Stats, error) {
					if tt.statsErr != nil {
						return nil, tt.statsErr
					}
					return &banksync.Stats{TenantID: tenantID}, nil
				},
			})

			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/sync/stats"+tt.query, nil))

			if rr.Code != tt.expectedStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.expectedStatus)
			}
			if tt.expectedIDs == nil {
				return
			}
			var got []banksync.Stats
			if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(got) != len(tt.expectedIDs) {
				t.Fatalf("got %d reports, want %d", len(got), len(tt.expectedIDs))
			}
			for i, id := range tt.expectedIDs {
				if got[i].TenantID != id {
					t.Errorf("report[%d].TenantID = %q, want %q", i, got[i].TenantID, id)
				}
			}
		})
	}
}

func TestHandleUnmatched(t *testing.T) {
	tests := []struct {
		name           string
		query          string
		expectedStatus int
		expectedAge    time.Duration
	}{
		{"default age", "?tenant=acme", http.StatusOK, banksync.DefaultUnmatchedAge},
		{"custom age", "?tenant=acme&older_than=72h", http.StatusOK, 72 * time.Hour},
		{"bad age", "?tenant=acme&older_than=soon", http.StatusBadRequest, 0},
		{"negative age", "?older_than=-1h", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAge time.Duration
			mux := newReportMux(&MockReporter{
				UnmatchedFunc: func(ctx context.Context, tenantID string, olderThan time.Duration) (*banksync.UnmatchedReport, error) {
					gotAge = olderThan
					return &banksync.UnmatchedReport{TenantID: tenantID, Count: 1}, nil
				},
			})

			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/alerts/unmatched"+tt.query, nil))

			if rr.Code != tt.expectedStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.expectedStatus)
			}
			if gotAge != tt.expectedAge {
				t.Errorf("older than = %s, want %s", gotAge, tt.expectedAge)
			}
		})
	}
}
