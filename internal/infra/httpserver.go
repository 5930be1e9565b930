package infra

import (
	"context"
	"net/http"
	"time"
)

// HTTPServer wraps http.Server to provide graceful startup and shutdown helpers.
type HTTPServer struct {
	server *http.Server
}

// NewHTTPServer creates the public API server. It has no write timeout so job
// event streams stay open.
func NewHTTPServer(cfg *Config, handler http.Handler) *HTTPServer {
	return newServer(":"+cfg.Port, handler, cfg.HTTPReadTimeout, 0, cfg.HTTPIdleTimeout)
}

// NewMetricsServer serves the Prometheus registry on cfg.MetricsAddr.
func NewMetricsServer(cfg *Config, handler http.Handler) *HTTPServer {
	if cfg.MetricsAddr == "" {
		return &HTTPServer{}
	}
	return newServer(cfg.MetricsAddr, handler, cfg.HTTPReadTimeout, cfg.HTTPWriteTimeout, cfg.HTTPIdleTimeout)
}

func newServer(addr string, handler http.Handler, read, write, idle time.Duration) *HTTPServer {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       read,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      write,
		IdleTimeout:       idle,
	}
	return &HTTPServer{server: srv}
}

// Addr returns the listen address, or "" for a disabled server.
func (s *HTTPServer) Addr() string {
	if s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Start runs the HTTP server in the current goroutine.
func (s *HTTPServer) Start() error {
	if s.server == nil {
		return nil
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
