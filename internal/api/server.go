// Package api exposes the operator HTTP surface: certificate queries,
// rotation, manual uploads, domain status, and integrity checks.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/certkeeper/internal/api/handler"
	mw "github.com/edvin/certkeeper/internal/api/middleware"
	"github.com/edvin/certkeeper/internal/core"
)

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	services *core.Services
	pool     *pgxpool.Pool
}

func NewServer(logger zerolog.Logger, pool *pgxpool.Pool, services *core.Services) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		services: services,
		pool:     pool,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		cert := handler.NewCertificate(s.services.Certificate)
		r.Get("/domains/{domain}/certificates", cert.ListByDomain)
		r.Post("/domains/{domain}/certificates", cert.Rotate)
		r.Post("/domains/{domain}/certificates/upload", cert.Upload)
		r.Delete("/domains/{domain}/certificates/{type}", cert.Deactivate)
		r.Get("/domains/{domain}/events", cert.Events)
		r.Get("/certificates/{id}", cert.Get)
		r.Get("/certificates/expiring", cert.ListExpiring)

		status := handler.NewStatus(s.services.Certificate, s.services.Integrity)
		r.Get("/status", status.All)
		r.Get("/domains/{domain}/status", status.Domain)
		r.Post("/integrity/verify", status.Verify)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.pool.Ping(ctx); err != nil {
		checks["store_db"] = err.Error()
		healthy = false
	} else {
		checks["store_db"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
