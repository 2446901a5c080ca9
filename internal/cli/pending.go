package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/bandwatch/internal/approval"
	"github.com/ppiankov/bandwatch/internal/model"
)

func init() {
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List approval requests awaiting a decision",
	Long:  "Shows all pending approval records with agent, action, band, and timestamps.",
	RunE:  runPending,
}

func runPending(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	list, err := approval.NewLedger(st).ListByStatus(context.Background(), model.ApprovalPending)
	if err != nil {
		return fmt.Errorf("failed to list approvals: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No pending approvals.")
		return nil
	}

	fmt.Printf("%-6s %-24s %-28s %-7s %-12s %s\n", "ID", "AGENT", "ACTION", "BAND", "REQUESTED BY", "REQUESTED AT")
	for _, a := range list {
		fmt.Printf("%-6d %-24s %-28s %-7s %-12s %s\n",
			a.ID,
			truncate(a.AgentID, 24),
			truncate(a.Action, 28),
			a.Band,
			truncate(a.RequestedBy, 12),
			a.RequestedAt.Format("2006-01-02 15:04:05"),
		)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
