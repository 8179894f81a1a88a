// Package httpapi assembles the service's HTTP surface: the audit query API
// plus the operational endpoints every deployment expects.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"worktrail/internal/audit/handler"
	"worktrail/pkg/platform/httputil"
	"worktrail/pkg/platform/middleware/metadata"
	"worktrail/pkg/platform/middleware/recovery"
	"worktrail/pkg/platform/middleware/requestid"
	"worktrail/pkg/platform/middleware/requesttime"
)

// HealthCheck probes one downstream dependency.
type HealthCheck func(ctx context.Context) error

// Options carries everything the router mounts besides the audit API itself.
type Options struct {
	Logger *slog.Logger
	// Checks maps a dependency name to its probe; /healthz runs them all.
	Checks map[string]HealthCheck
}

// NewRouter wires middleware, the audit query endpoints, and the operational
// endpoints into one handler.
func NewRouter(audit *handler.Handler, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(recovery.Middleware(opts.Logger))
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)

	audit.Register(r)

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/healthz", healthz(opts.Checks))

	return r
}

func healthz(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := make(map[string]string, len(checks))
		healthy := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status[name] = err.Error()
				healthy = false
				continue
			}
			status[name] = "ok"
		}

		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, status)
	}
}
