package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("POST /presentations", h.UploadPresentation)
	mux.HandleFunc("GET /presentations", h.ListPresentations)
	mux.HandleFunc("GET /presentations/{id}", h.GetPresentation)
	mux.HandleFunc("GET /presentations/{id}/download", h.DownloadPresentation)
	mux.HandleFunc("POST /presentations/{id}/cancel", h.CancelPresentation)

	mux.HandleFunc("POST /voices", h.UploadVoice)
	mux.HandleFunc("GET /voices", h.ListVoices)
	mux.HandleFunc("GET /voices/builtin", h.ListBuiltinVoices)

	mux.HandleFunc("GET /cleanup/preview", h.CleanupPreview)
	mux.HandleFunc("POST /cleanup/execute", h.CleanupExecute)
	mux.HandleFunc("POST /cleanup/jobs", h.CleanupJobs)

	mux.HandleFunc("GET /dashboard/workers", h.Workers)

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
