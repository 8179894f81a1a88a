// Package requestid assigns every request a correlation identifier.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"worktrail/pkg/requestcontext"
)

// Header is the request/response header carrying the correlation id.
const Header = "X-Request-Id"

// Middleware propagates the caller's X-Request-Id, or generates one when the
// caller sent none, and stores it in the context. The id is echoed on the
// response so callers can quote it when reporting problems.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(Header)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		w.Header().Set(Header, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
