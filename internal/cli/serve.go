package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/bandwatch/internal/server"
	"github.com/ppiankov/bandwatch/internal/store"
)

var (
	servePort       int
	serveRiskConfig string
	serveAuditLog   string
	serveInterval   time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 8787, "HTTP listen port")
	serveCmd.Flags().StringVar(&serveRiskConfig, "risk-config", "", "Path to risk config YAML")
	serveCmd.Flags().StringVar(&serveAuditLog, "audit-log", "", "Path to audit log JSONL file")
	serveCmd.Flags().DurationVar(&serveInterval, "watchdog-interval", 0, "Run the watchdog on this interval (0 disables)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the governance HTTP server",
	Long: "Runs bandwatch as a central governance server over HTTP.\n" +
		"Agents and ingestion jobs connect as clients; the risk config file is\n" +
		"hot-reloaded on change. With --watchdog-interval the rescoring watchdog\n" +
		"runs in the background.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	path := dbPath
	if path == "" {
		path = store.DefaultPath()
	}
	srv, err := server.New(server.Config{
		Port:           servePort,
		DBPath:         path,
		RiskConfigPath: serveRiskConfig,
		AuditLogPath:   serveAuditLog,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	reloader, err := server.NewReloader(srv, []string{serveRiskConfig})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if reloader != nil {
		go reloader.Run(ctx)
	}
	if serveInterval > 0 {
		go srv.Watchdog().Start(ctx, serveInterval)
		fmt.Fprintf(os.Stderr, "watchdog running every %s\n", serveInterval)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down governance server...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(os.Stderr, "bandwatch governance server listening on :%d\n", servePort)
	return srv.Serve()
}
