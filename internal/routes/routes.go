package routes

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/onetimeview/onetimeview/internal/app"
	"github.com/onetimeview/onetimeview/internal/handler"
	"github.com/onetimeview/onetimeview/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(app *app.App) http.Handler {
	// Handlers
	secret := handler.NewSecretHandler(app.SecretService, app.Cfg.MaxFileSize)
	health := handler.NewHealthHandler(app.Ping)

	mux := http.NewServeMux()

	// ============================================================================
	// SECRETS
	// ============================================================================

	mux.HandleFunc("POST /api/secrets", secret.Create)
	mux.HandleFunc("POST /api/secrets/{id}/verify", secret.Verify)
	mux.HandleFunc("GET /api/secrets/{id}", secret.Retrieve)

	// Single-use file downloads issued by a view
	mux.HandleFunc("GET /api/downloads/{token}", secret.Download)

	// ============================================================================
	// OPERATIONS
	// ============================================================================

	mux.HandleFunc("GET /health", health.Check)
	mux.Handle("GET /metrics", promhttp.Handler())

	// ============================================================================
	// FALLBACK
	// ============================================================================

	// 404
	mux.HandleFunc("/{path...}", handler.NotFound)

	// Global middleware - executed in order (top to bottom)
	handler := middleware.Chain(
		mux,
		chimw.Recoverer,
		chimw.RequestID,
		chimw.RealIP,
		middleware.RequestLogging, // Must follow RequestID, which replaces the request
		middleware.Metrics,
		middleware.SecurityHeaders,
	)

	return handler
}
