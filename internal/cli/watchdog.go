package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/bandwatch/internal/watchdog"
)

func init() {
	rootCmd.AddCommand(watchdogCmd)
	rootCmd.AddCommand(rescoreCmd)
	watchdogCmd.AddCommand(watchdogRunCmd)
}

var watchdogCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "Rescoring watchdog operations",
}

var watchdogRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one watchdog pass",
	Long: "Rescoring every agent under the current config, detecting band drift,\n" +
		"and invalidating stale approvals of drifted agents.",
	RunE: runWatchdogOnce,
}

var rescoreCmd = &cobra.Command{
	Use:   "rescore",
	Short: "Recompute all agents' risk scores",
	Long:  "Rescoring only; approvals are not touched. Use 'watchdog run' to also\ninvalidate approvals of drifted agents.",
	RunE:  runRescore,
}

func runWatchdogOnce(cmd *cobra.Command, args []string) error {
	eng, st, err := openEngine()
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := watchdog.New(eng, st, nil, nil).RunOnce(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("run %s: rescored %d agent(s), %d band change(s)\n", run.ID, run.Rescored, len(run.Drifts))
	for _, d := range run.Drifts {
		fmt.Printf("  %s: %s -> %s\n", d.AgentID, d.From, d.To)
	}
	return nil
}

func runRescore(cmd *cobra.Command, args []string) error {
	eng, st, err := openEngine()
	if err != nil {
		return err
	}
	defer st.Close()

	rescored, drifts, err := eng.RescoreAll(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("rescored %d agent(s), %d band change(s)\n", rescored, len(drifts))
	for _, d := range drifts {
		fmt.Printf("  %s: %s -> %s\n", d.AgentID, d.From, d.To)
	}
	return nil
}
