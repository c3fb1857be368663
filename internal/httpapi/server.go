// Package httpapi serves livarr's admin HTTP API: huma-described JSON
// operations over a chi router.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/livarr/livarr/internal/config"
	"github.com/livarr/livarr/internal/httpapi/middleware"
	"github.com/livarr/livarr/internal/observability"
	"github.com/livarr/livarr/internal/version"
)

// Server is the admin API server. Handlers register themselves against
// API() after construction.
type Server struct {
	server *http.Server
	router *chi.Mux
	api    huma.API
	cfg    config.ServerConfig
	logger *slog.Logger
}

// NewServer builds the router, the middleware stack and the huma API.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	logger = observability.WithComponent(logger, "httpapi")

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.CORSOrigins))
	router.Use(chimiddleware.Compress(5))

	humaConfig := huma.DefaultConfig(version.ApplicationName, version.Version)
	humaConfig.Info.Description = "Admin API for the livarr capture and republish pipeline."

	api := humachi.New(router, humaConfig)

	return &Server{
		server: &http.Server{
			Addr:         cfg.Address(),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		router: router,
		api:    api,
		cfg:    cfg,
		logger: logger,
	}
}

// API returns the huma API handlers register against.
func (s *Server) API() huma.API {
	return s.api
}

// Router returns the underlying chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start serves requests until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server starting", slog.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info("http server shutting down")
	return s.server.Shutdown(ctx)
}

// ListenAndServe runs the server until ctx is canceled, then shuts it
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
