package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the Prometheus registry over HTTP. Addr and path come from
// the validated config; defaults are applied there, not here.
type Server struct {
	path string
	srv  *http.Server
}

// NewServer builds the server; it does not listen yet.
func NewServer(addr, path string) *Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	return &Server{
		path: path,
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start begins serving in the background.
func (s *Server) Start() error {
	slog.Info("metrics server listening", "addr", s.srv.Addr, "path", s.path)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight scrapes and closes the listener. The caller bounds
// the shutdown through ctx.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	slog.Info("metrics server stopped")
	return nil
}
