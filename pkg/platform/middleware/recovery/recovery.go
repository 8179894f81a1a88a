// Package recovery converts handler panics into 500 responses.
package recovery

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	dErrors "worktrail/pkg/domain-errors"
	"worktrail/pkg/platform/httputil"
	"worktrail/pkg/requestcontext"
)

// Middleware recovers panics from downstream handlers, logs them with the
// request id, and answers with the internal error envelope.
func Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					ctx := r.Context()
					logger.ErrorContext(ctx, "handler panic",
						"request_id", requestcontext.RequestID(ctx),
						"panic", rec,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)
					httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "internal error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
