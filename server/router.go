// server/router.go
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hearthd/certward/httputil"
	"github.com/hearthd/certward/logging"
	"github.com/hearthd/certward/metrics"
)

// Status is the admin view of the managed certificate.
type Status struct {
	Domains       string    `json:"domains"`
	Present       bool      `json:"present"`
	Source        string    `json:"source,omitempty"`
	IssuerClass   string    `json:"issuer_class,omitempty"`
	NotAfter      time.Time `json:"not_after,omitempty"`
	DaysRemaining int       `json:"days_remaining"`

	// RuntimeInSync reports whether the proxy's runtime copy matches the
	// store. Always true when no runtime target is configured.
	RuntimeInSync bool `json:"runtime_in_sync"`

	Error string `json:"error,omitempty"`
}

// StatusFunc produces the current Status on demand.
type StatusFunc func() Status

// NewRouter builds the admin router: metrics, health, and certificate
// status.
func NewRouter(logger *zap.Logger, status StatusFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Recoverer(logger))
	r.Use(logging.RequestLogger(logger))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.JSONError(w, http.StatusNotFound, "not_found", "no such endpoint")
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		s := status()
		code := http.StatusOK
		if s.Error != "" {
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, s)
	})

	return r
}
