// Package metadata records where a request came from. The trail itself is
// sensitive, so reads of it carry the caller's network provenance into logs.
package metadata

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}
type userAgentKey struct{}

// ClientMetadata stores the caller's IP address and User-Agent in the
// request context. Mount it early so every handler and log line sees them.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithClientMetadata(r.Context(), ClientIPFromRequest(r), r.Header.Get("User-Agent"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithClientMetadata injects client provenance into a context. Tests use it
// in place of the full middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, clientIP)
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}

// ClientIP returns the caller's IP address recorded by ClientMetadata, or ""
// when the middleware did not run.
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// UserAgent returns the caller's User-Agent recorded by ClientMetadata.
func UserAgent(ctx context.Context) string {
	ua, _ := ctx.Value(userAgentKey{}).(string)
	return ua
}

// ClientIPFromRequest resolves the originating client address, preferring
// forwarding headers set by proxies over the socket peer.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First entry is the client; the rest are intermediate proxies.
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
