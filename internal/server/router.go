package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/casthq/shophand/internal/server/handler"
)

// NewRouter creates and configures a new HTTP router with middleware and the
// gateway catch-all. Every path other than the operational endpoints is a job
// identity.
func NewRouter(gateway *handler.GatewayHandler) *chi.Mux {
	r := chi.NewRouter()

	// Configure middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", promhttp.Handler())

	// Event deliveries address jobs by path: /<job-identity>.
	r.HandleFunc("/*", gateway.Handle)

	return r
}
