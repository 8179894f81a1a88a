// Package requesttime pins one "now" per HTTP request. Query filters and log
// lines within a request then agree on the same timestamp, which matters when
// a trail is read near its retention or filter boundaries.
package requesttime

import (
	"net/http"
	"time"

	"worktrail/pkg/requestcontext"
)

// Middleware captures the wall clock once at the start of the request and
// stores it in the context for everything downstream.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
