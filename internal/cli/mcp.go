package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	bandmcp "github.com/ppiankov/bandwatch/internal/mcp"
	"github.com/ppiankov/bandwatch/internal/store"
)

var (
	mcpRiskConfig string
	mcpAuditLog   string
	mcpAgentID    string
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpRiskConfig, "risk-config", "", "Path to risk config YAML")
	mcpCmd.Flags().StringVar(&mcpAuditLog, "audit-log", "", "Path to audit log JSONL file")
	mcpCmd.Flags().StringVar(&mcpAgentID, "agent-id", "", "Default agent identity for check calls")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs bandwatch as an MCP (Model Context Protocol) server over stdio.\nExposes governance tools: check, pending, decide.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	path := dbPath
	if path == "" {
		path = store.DefaultPath()
	}
	srv, err := bandmcp.New(bandmcp.Config{
		DBPath:         path,
		RiskConfigPath: mcpRiskConfig,
		AuditLogPath:   mcpAuditLog,
		AgentID:        mcpAgentID,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	fmt.Fprintln(os.Stderr, "bandwatch MCP server on stdio")
	return srv.Run(ctx)
}
