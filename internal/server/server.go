// Package server implements the Ingestion Endpoint (C4) and the rest of
// storepulse's HTTP boundary: dashboard reads, alert history, and the
// admin/config surface. It is the collaborator that wires the Liveness
// Registry (C5), Health Sweeper (C6), and Alert Dispatcher (C7) to the
// network.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/storepulse/storepulse/internal/alert"
	"github.com/storepulse/storepulse/internal/notify"
	"github.com/storepulse/storepulse/internal/registry"
	"github.com/storepulse/storepulse/internal/store"
	"github.com/storepulse/storepulse/internal/sweeper"
)

// Server is the HTTP server for storepulse.
type Server struct {
	registry   *registry.Registry
	store      *store.Store
	dispatcher *alert.Dispatcher
	sweeper    *sweeper.Sweeper
	recipients *notify.RecipientBook

	mux    *http.ServeMux
	server *http.Server

	startedAt          time.Time
	heartbeatsIngested atomic.Int64
}

// NewServer creates a new HTTP server wired to storepulse's domain
// collaborators. corsOrigins is the configured CORS allow-list; an empty
// slice disables cross-origin headers entirely.
func NewServer(addr string, reg *registry.Registry, st *store.Store, dispatcher *alert.Dispatcher, sw *sweeper.Sweeper, recipients *notify.RecipientBook, corsOrigins []string) *Server {
	s := &Server{
		registry:   reg,
		store:      st,
		dispatcher: dispatcher,
		sweeper:    sw,
		recipients: recipients,
		startedAt:  time.Now(),
		mux:        http.NewServeMux(),
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      CORSMiddleware(corsOrigins)(RecoveryMiddleware(LoggingMiddleware(s.mux))),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("HTTP server starting", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /heartbeat", s.handleHeartbeatLive)
	s.mux.HandleFunc("POST /heartbeat/buffered", s.handleHeartbeatBuffered)

	s.mux.HandleFunc("GET /dashboard", s.handleDashboard)
	s.mux.HandleFunc("GET /store/{id}", s.handleStore)
	s.mux.HandleFunc("GET /alerts", s.handleAlerts)
	s.mux.HandleFunc("GET /alerts/{id}", s.handleAlertsForStore)

	s.mux.HandleFunc("GET /trigger-health-check", s.handleTriggerHealthCheck)
	s.mux.HandleFunc("GET /test-email/{id}", s.handleTestEmail)
	s.mux.HandleFunc("GET /config/email", s.handleConfigEmail)
	s.mux.HandleFunc("POST /config/reload", s.handleConfigReload)

	s.mux.HandleFunc("GET /health", s.handleHealth)
}
