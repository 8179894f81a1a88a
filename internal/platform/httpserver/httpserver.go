// Package httpserver builds the processes' HTTP listeners with shared
// timeouts and a drain-on-cancel shutdown helper.
package httpserver

import (
	"context"
	"net/http"
	"time"
)

// New builds an HTTP server with sane defaults for this project.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Drain blocks until ctx is cancelled, then shuts srv down gracefully,
// giving in-flight requests up to timeout to finish.
func Drain(ctx context.Context, srv *http.Server, timeout time.Duration) error {
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
