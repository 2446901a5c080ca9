package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/bandwatch/internal/approval"
	"github.com/ppiankov/bandwatch/internal/model"
)

var (
	decideBy   string
	decideNote string
)

func init() {
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	for _, c := range []*cobra.Command{approveCmd, rejectCmd} {
		c.Flags().StringVar(&decideBy, "by", "admin", "Reviewer identity")
		c.Flags().StringVar(&decideNote, "note", "", "Reviewer note")
	}
}

var approveCmd = &cobra.Command{
	Use:   "approve <approval-id>",
	Short: "Approve a pending approval request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(args[0], model.ApprovalApproved)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <approval-id>",
	Short: "Reject a pending approval request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(args[0], model.ApprovalRejected)
	},
}

func decide(rawID string, status model.ApprovalStatus) error {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid approval id %q", rawID)
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	rec, err := approval.NewLedger(st).Decide(context.Background(), id, status, decideBy, decideNote, time.Now())
	if err != nil {
		var invalid *approval.InvalidTransitionError
		if errors.As(err, &invalid) {
			return fmt.Errorf("approval %d is already %s", invalid.ID, invalid.Status)
		}
		return err
	}
	fmt.Printf("approval %d for %s/%s: %s by %s\n", rec.ID, rec.AgentID, rec.Action, rec.Status, rec.DecidedBy)
	return nil
}
