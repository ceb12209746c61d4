package main

import (
	"log"
	"net/http"

	"bankbridge/internal/shared/config"
	"bankbridge/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", deps.HealthHandler.HandleHealth)

	// Provider webhooks
	mux.HandleFunc("POST /webhooks/"+config.ProviderName+"/{tenant}", deps.WebhookHandler.HandleWebhook)
	mux.HandleFunc("GET /webhooks/config", deps.WebhookHandler.HandleWebhookConfig)

	// Admin routes
	if cfg.Admin.APIKey != "" {
		adminAuth := middleware.AdminAuth(cfg.Admin.APIKey)
		admin := deps.AdminHandler

		mux.Handle("GET /api/tokens", adminAuth(http.HandlerFunc(admin.HandleTokens)))
		mux.Handle("POST /api/tokens/{tenant}/refresh", adminAuth(http.HandlerFunc(admin.HandleRefreshToken)))
		mux.Handle("GET /api/sync/jobs", adminAuth(http.HandlerFunc(admin.HandleListJobs)))
		mux.Handle("POST /api/sync/{tenant}/{jobType}", adminAuth(http.HandlerFunc(admin.HandleRunSync)))
		mux.Handle("POST /api/reconcile/{tenant}/manual", adminAuth(http.HandlerFunc(admin.HandleManualMatch)))

		reports := deps.ReportHandler
		mux.Handle("GET /api/sync/stats", adminAuth(http.HandlerFunc(reports.HandleStats)))
		mux.Handle("GET /api/alerts/unmatched", adminAuth(http.HandlerFunc(reports.HandleUnmatched)))
	} else {
		log.Println("ADMIN_API_KEY not set; admin routes are disabled")
	}

	// Apply global middleware
	handler := middleware.Logging(middleware.Tracing(mux))
	if cfg.Telemetry.Enabled {
		handler = middleware.Telemetry(handler)
	}

	if cfg.TLS.Enabled {
		handler = middleware.HSTS(handler)
		log.Println("TLS security middleware enabled (HSTS)")
	}

	return handler
}
