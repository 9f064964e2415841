package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/alecgard/costscope/internal/auth"
	"github.com/alecgard/costscope/internal/dashboard"
	"github.com/alecgard/costscope/internal/metrics"
	"github.com/alecgard/costscope/internal/ratelimit"
)

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Reports       *dashboard.Service
	Authenticator auth.Authenticator
	Limiter       *ratelimit.Limiter
	Metrics       *metrics.Metrics
	CORSOrigins   []string
	Now           func() time.Time // default range clock; time.Now when nil
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.CORSOrigins))
	r.Use(metricsMiddleware(deps.Metrics))
	r.Use(slogRequestLogger)

	reports := newReportsHandler(deps.Reports, deps.Now)

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Well-known manifest.
	r.Get("/.well-known/costscope.json", WellKnownHandler)

	// Metrics.
	r.Handle("/metrics", deps.Metrics.PrometheusHandler())
	r.Get("/metrics/summary", deps.Metrics.Handler())

	// Report routes (bearer token + per-caller rate limiting).
	r.Route("/api", func(ar chi.Router) {
		ar.Use(auth.Middleware(deps.Authenticator, deps.Metrics))
		if deps.Limiter != nil {
			ar.Use(ratelimit.Middleware(deps.Limiter, deps.Metrics.IncRateLimitRejection))
		}

		reports.mount(ar)
	})

	return r
}

// slogRequestLogger is a simple structured logging middleware using slog.
func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", statusOf(ww),
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", ww.BytesWritten(),
		)
	})
}
