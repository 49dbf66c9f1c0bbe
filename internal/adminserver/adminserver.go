// Package adminserver implements the admin HTTP surface: health,
// readiness, status, session listing, and counter snapshots, plus a
// mounted Prometheus exposition handler.
package adminserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/your-org/5g-upf/internal/counters"
	"github.com/your-org/5g-upf/internal/nat"
	"github.com/your-org/5g-upf/internal/session"
)

// Server is the admin/monitoring HTTP server.
type Server struct {
	NodeID   string
	Store    *session.Store
	NAT      *nat.Table
	Counters *counters.Counters
	Logger   *zap.Logger

	router     *chi.Mux
	httpServer *http.Server
}

// New builds a Server with routes wired, ready for Start.
func New(addr, nodeID string, store *session.Store, natTable *nat.Table, c *counters.Counters, logger *zap.Logger) *Server {
	s := &Server{
		NodeID:   nodeID,
		Store:    store,
		NAT:      natTable,
		Counters: c,
		Logger:   logger,
		router:   chi.NewRouter(),
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ready", s.handleReady)
	s.router.Get("/status", s.handleStatus)
	s.router.Get("/sessions", s.handleSessions)
	s.router.Get("/stats", s.handleStats)
	s.router.Handle("/metrics", promhttp.Handler())
}

// Start blocks serving HTTP until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.Logger.Info("adminserver: starting", zap.String("address", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the server down, waiting up to ctx's deadline for
// in-flight requests to finish.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.Logger, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.Logger, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.Logger, http.StatusOK, map[string]interface{}{
		"node_id":          s.NodeID,
		"live_sessions":    s.Store.LiveCount(),
		"session_capacity": s.Store.Capacity(),
		"live_nat_entries": s.NAT.LiveCount(),
		"nat_capacity":     s.NAT.Capacity(),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	snaps := s.Store.Snapshot()
	respondJSON(w, s.Logger, http.StatusOK, map[string]interface{}{
		"sessions": snaps,
		"count":    len(snaps),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.Logger, http.StatusOK, s.Counters.Snapshot())
}

func respondJSON(w http.ResponseWriter, logger *zap.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("adminserver: failed to encode response", zap.Error(err))
	}
}
