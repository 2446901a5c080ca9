package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/bandwatch/internal/engine"
)

var (
	checkPrompt string
	checkBy     string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkPrompt, "prompt", "", "Task context recorded on the approval request")
	checkCmd.Flags().StringVar(&checkBy, "requested-by", "", "Requester identity")
}

var checkCmd = &cobra.Command{
	Use:   "check <agent-id> <action>",
	Short: "Evaluate whether an agent may perform an action",
	Long: "Runs the full decision pipeline against the local database: current risk\n" +
		"band, action rule, safeguards, and approval state. Exits 0 when allowed,\n" +
		"1 otherwise.",
	Args: cobra.ExactArgs(2),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	eng, st, err := openEngine()
	if err != nil {
		return err
	}
	defer st.Close()

	dec, err := eng.Evaluate(context.Background(), engine.Request{
		AgentID:     args[0],
		Action:      args[1],
		Prompt:      checkPrompt,
		RequestedBy: checkBy,
	})
	if err != nil && !errors.Is(err, engine.ErrUnavailable) {
		return err
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	out, _ := json.MarshalIndent(dec, "", "  ")
	fmt.Println(string(out))
	if !dec.Allowed() {
		os.Exit(1)
	}
	return nil
}
