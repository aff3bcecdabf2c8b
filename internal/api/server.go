package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// Server is the HTTP API server.
type Server struct {
	config  *domain.Config
	router  *chi.Mux
	server  *http.Server
	handler *Handler
}

// NewServer creates a new API server.
func NewServer(cfg *domain.Config, repo domain.Repository, c domain.Cache, b domain.EventBus, eng *engine.Engine, version string) *Server {
	handler := NewHandler(repo, c, b, eng, version)

	r := chi.NewRouter()

	// Global middleware
	r.Use(CORSMiddleware)
	r.Use(RecoverMiddleware)
	r.Use(TracingMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))

	// Health endpoints (no tenant required)
	r.Get("/health", handler.Health)
	r.Get("/ready", handler.Ready)

	// API routes (tenant required)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Calculations
		r.Post("/contracts/{contractID}/calculate", handler.Calculate)
		r.Get("/contracts/{contractID}/sales", handler.ListSales)
		r.Get("/contracts/{contractID}/stats", handler.ContractStats)
		r.Get("/calculations/{id}", handler.GetCalculation)

		// Rule management
		r.Get("/rules", handler.ListRules)
		r.Post("/rules", handler.CreateRule)
		r.Post("/rules/reload", handler.ReloadRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Put("/rules/{id}", handler.UpdateRule)
		r.Delete("/rules/{id}", handler.DeleteRule)

		// Sales ingestion
		r.Post("/sales", handler.IngestSales)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return &Server{
		config:  cfg,
		router:  r,
		server:  srv,
		handler: handler,
	}
}

// Start begins serving HTTP requests. Blocks until the server stops.
func (s *Server) Start() error {
	slog.Info("starting HTTP server", "addr", s.server.Addr, "tier", s.config.Tier)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
