// Package core provides the HTTP surface of the connector manager daemon:
// health probes, Prometheus metrics and the status of the last dispatch
// cycle, served by a chi router.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

// Server encapsulates the dependencies of the daemon's HTTP surface.
type Server struct {
	Logger       *slog.Logger
	HealthProbes []HealthProbe
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Cycles  *CycleTracker

	router *chi.Mux
}

// NewServer prepares a server. Routes are mounted by MountRoutes.
func NewServer(logger *slog.Logger, cycles *CycleTracker) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if cycles == nil {
		cycles = &CycleTracker{}
	}
	return &Server{
		Logger: logger,
		Cycles: cycles,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// MountRoutes registers middleware and routes.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestLogger(s.Logger))

	s.router.Get("/health", s.HandleHealth)
	s.router.Get("/status", s.HandleStatus)
	if s.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.Metrics)
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.Logger.Info("http server shutdown initiated")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
