// Package server exposes the governance engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ppiankov/bandwatch/internal/alert"
	"github.com/ppiankov/bandwatch/internal/audit"
	"github.com/ppiankov/bandwatch/internal/engine"
	"github.com/ppiankov/bandwatch/internal/risk"
	"github.com/ppiankov/bandwatch/internal/store"
	"github.com/ppiankov/bandwatch/internal/watchdog"
)

// Config holds HTTP server configuration.
type Config struct {
	Port           int
	DBPath         string
	RiskConfigPath string
	AuditLogPath   string
}

// Server wires store, engine, and watchdog behind an HTTP API.
type Server struct {
	cfg      Config
	store    *store.Store
	engine   *engine.Engine
	watchdog *watchdog.Watchdog
	auditLog *audit.Log

	httpServer *http.Server
}

// New opens the store, loads the risk config, and builds the full stack.
func New(cfg Config) (*Server, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	riskCfg, hash, err := risk.LoadWithHash(cfg.RiskConfigPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to load risk config: %w", err)
	}

	var auditLog *audit.Log
	if cfg.AuditLogPath != "" {
		auditLog, err = audit.Open(cfg.AuditLogPath)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
	}

	dispatcher := alert.NewDispatcher(riskCfg.Alerts)
	eng := engine.New(st, riskCfg, hash, engine.Options{Audit: auditLog, Alerts: dispatcher})

	s := &Server{
		cfg:      cfg,
		store:    st,
		engine:   eng,
		watchdog: watchdog.New(eng, st, auditLog, dispatcher),
		auditLog: auditLog,
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Engine returns the decision engine, for the watchdog ticker and tests.
func (s *Server) Engine() *engine.Engine { return s.engine }

// Watchdog returns the watchdog, for the serve command's ticker.
func (s *Server) Watchdog() *watchdog.Watchdog { return s.watchdog }

// Handler returns the HTTP handler. For testing with httptest.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Serve starts the HTTP server on the configured port. Blocks until stopped.
func (s *Server) Serve() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ServeOn starts the HTTP server on the given listener. For testing.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.httpServer.Serve(lis)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ReloadRiskConfig re-reads the risk config file and swaps it into the
// engine. Invalid config is rejected and the previous one stays active.
func (s *Server) ReloadRiskConfig() error {
	cfg, hash, err := risk.LoadWithHash(s.cfg.RiskConfigPath)
	if err != nil {
		return err
	}
	s.engine.SetRiskConfig(cfg, hash)
	return nil
}

// Close cleans up resources.
func (s *Server) Close() error {
	var first error
	if s.auditLog != nil {
		first = s.auditLog.Close()
	}
	if err := s.store.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
