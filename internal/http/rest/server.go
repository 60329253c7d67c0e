package rest

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/fetcher/internal/storage"
	"github.com/italolelis/fetcher/internal/telemetry"
)

// ServerConfig holds the listener settings of the status server.
type ServerConfig struct {
	BindAddress  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewRouter mounts /metrics, /healthz and, when a journal is available,
// /transfers.
func NewRouter(tel *telemetry.Telemetry, repo storage.TransferReadRepository) http.Handler {
	r := chi.NewRouter()

	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", tel.Handler())

	if repo != nil {
		r.Mount("/transfers", NewTransfersHandler(repo).Routes())
	}

	return r
}

// NewServer prepares the status server. Requests inherit ctx so handlers
// log through the process logger.
func NewServer(ctx context.Context, cfg ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.BindAddress,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		Handler:      handler,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
