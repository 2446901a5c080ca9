// Package mcp exposes the governance gate over the Model Context Protocol,
// so agent runtimes can check, list, and decide approvals as MCP tools.
package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/bandwatch/internal/alert"
	"github.com/ppiankov/bandwatch/internal/audit"
	"github.com/ppiankov/bandwatch/internal/engine"
	"github.com/ppiankov/bandwatch/internal/risk"
	"github.com/ppiankov/bandwatch/internal/store"
)

// Config holds MCP server configuration.
type Config struct {
	DBPath         string
	RiskConfigPath string
	AuditLogPath   string
	AgentID        string // default agent identity for check calls
}

// Server wraps the MCP SDK server around the decision engine.
type Server struct {
	mcpServer *mcpsdk.Server
	engine    *engine.Engine
	store     *store.Store
	auditLog  *audit.Log
	agentID   string
}

// New creates an MCP server backed by the local governance store.
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

	s := &Server{
		engine: engine.New(st, riskCfg, hash, engine.Options{
			Audit:  auditLog,
			Alerts: alert.NewDispatcher(riskCfg.Alerts),
		}),
		store:    st,
		auditLog: auditLog,
		agentID:  cfg.AgentID,
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "bandwatch",
			Version: "0.1.0",
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Close releases the store and audit log.
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

// registerTools adds all bandwatch tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "bandwatch_check",
		Description: "Check whether an agent may perform an action under current governance policy. Returns the decision, risk band, and system header.",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "bandwatch_pending",
		Description: "List approval requests awaiting a human decision.",
	}, s.handlePending)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "bandwatch_decide",
		Description: "Approve or reject a pending approval request by id.",
	}, s.handleDecide)
}
