// Package cli implements the bandwatch command line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/bandwatch/internal/engine"
	"github.com/ppiankov/bandwatch/internal/risk"
	"github.com/ppiankov/bandwatch/internal/store"
)

var dbPath string

var rootCmd = &cobra.Command{
	Use:   "bandwatch",
	Short: "Governance decision engine for autonomous AI agents",
	Long: "Scores agents into risk bands from operational signals, gates their actions\n" +
		"through a per-action policy matrix, and routes risky attempts through a\n" +
		"human approval ledger. Fail-closed: missing telemetry raises risk, storage\n" +
		"failures block.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to sqlite database (default ~/.bandwatch/bandwatch.db)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore() (*store.Store, error) {
	path := dbPath
	if path == "" {
		path = store.DefaultPath()
	}
	return store.Open(path)
}

// openEngine builds a local engine over the default store and risk config,
// for commands that act on the database directly rather than via the server.
func openEngine() (*engine.Engine, *store.Store, error) {
	st, err := openStore()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	cfg, hash, err := risk.LoadWithHash("")
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("failed to load risk config: %w", err)
	}
	return engine.New(st, cfg, hash, engine.Options{}), st, nil
}
