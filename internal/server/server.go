// Package server exposes the administrative HTTP surface: activate and
// deactivate switches, inspect status, and query the audit trail.
// Request authentication proper is an external concern; actors arrive
// pre-identified in headers and system actors present their token as a
// bearer credential.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/opsline/failsafe/internal/alert"
	"github.com/opsline/failsafe/internal/audit"
	"github.com/opsline/failsafe/internal/engine"
	"github.com/opsline/failsafe/internal/health"
	"github.com/opsline/failsafe/internal/state"
)

// Config holds server wiring.
type Config struct {
	Listen     string
	Engine     *engine.Engine
	Store      *state.Store
	Monitor    *health.Monitor   // optional
	Dispatcher *alert.Dispatcher // optional, for failure counters
	AuditLog   *audit.Log
}

// Server is the administrative HTTP server.
type Server struct {
	cfg Config
	srv *http.Server
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil || cfg.Store == nil || cfg.AuditLog == nil {
		return nil, fmt.Errorf("server: engine, store, and audit log are required")
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8787"
	}

	s := &Server{cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /emergency/activate", s.handleActivate)
	mux.HandleFunc("POST /emergency/deactivate", s.handleDeactivate)
	mux.HandleFunc("GET /emergency/status", s.handleStatus)
	mux.HandleFunc("GET /emergency/audit", s.handleAudit)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.srv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the HTTP handler. For testing.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start listens and serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.srv.Addr, err)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}
