package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/bandwatch/internal/model"
	"github.com/ppiankov/bandwatch/internal/policy"
)

var (
	policyAllow   []string
	policyApprove []string
	policyDesc    string
)

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyListCmd)
	policyCmd.AddCommand(policySetCmd)
	policyCmd.AddCommand(policyReviewCmd)
	policySetCmd.Flags().StringSliceVar(&policyAllow, "allow", nil, "Bands the action is allowed in (green,amber,red)")
	policySetCmd.Flags().StringSliceVar(&policyApprove, "approve", nil, "Bands requiring human approval")
	policySetCmd.Flags().StringVar(&policyDesc, "description", "", "Action description")
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage the per-action policy matrix",
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered action rules",
	RunE:  runPolicyList,
}

var policySetCmd = &cobra.Command{
	Use:   "set <action>",
	Short: "Edit an action rule",
	Long: "Updates an action's allow/approve bands. The edit bumps the rule version\n" +
		"and expires every pending and approved record for the action.",
	Args: cobra.ExactArgs(1),
	RunE: runPolicySet,
}

var policyReviewCmd = &cobra.Command{
	Use:   "review <action>",
	Short: "Mark an auto-created rule as reviewed",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyReview,
}

func runPolicyList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	rules, err := policy.NewMatrix(st).List(context.Background())
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		fmt.Println("No action rules registered.")
		return nil
	}

	fmt.Printf("%-28s %-13s %-4s %-22s %s\n", "ACTION", "STATUS", "VER", "ALLOW", "APPROVE")
	for _, r := range rules {
		fmt.Printf("%-28s %-13s %-4d %-22s %s\n",
			truncate(r.Action, 28), r.Status, r.Version, flagBands(r.Allow), flagBands(r.Approve))
	}
	return nil
}

func runPolicySet(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	patch := policy.UpdatePatch{}
	if cmd.Flags().Changed("allow") {
		flags, err := parseBands(policyAllow)
		if err != nil {
			return err
		}
		patch.Allow = &flags
	}
	if cmd.Flags().Changed("approve") {
		flags, err := parseBands(policyApprove)
		if err != nil {
			return err
		}
		patch.Approve = &flags
	}
	if cmd.Flags().Changed("description") {
		patch.Description = &policyDesc
	}

	matrix := policy.NewMatrix(st)
	ctx := context.Background()
	if _, _, err := matrix.GetOrCreate(ctx, args[0], time.Now()); err != nil {
		return err
	}
	res, err := matrix.Update(ctx, args[0], patch)
	if err != nil {
		return err
	}
	fmt.Printf("rule %s updated to v%d", res.Rule.Action, res.Rule.Version)
	if len(res.Expired) > 0 {
		fmt.Printf(", expired %d approval(s)", len(res.Expired))
	}
	fmt.Println()
	return nil
}

func runPolicyReview(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	rule, err := policy.NewMatrix(st).MarkReviewed(context.Background(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("rule %s marked %s\n", rule.Action, rule.Status)
	return nil
}

func flagBands(f model.BandFlags) string {
	var bands []string
	if f.Green {
		bands = append(bands, "green")
	}
	if f.Amber {
		bands = append(bands, "amber")
	}
	if f.Red {
		bands = append(bands, "red")
	}
	if len(bands) == 0 {
		return "-"
	}
	return strings.Join(bands, ",")
}

func parseBands(names []string) (model.BandFlags, error) {
	var f model.BandFlags
	for _, name := range names {
		switch model.Band(strings.TrimSpace(name)) {
		case model.BandGreen:
			f.Green = true
		case model.BandAmber:
			f.Amber = true
		case model.BandRed:
			f.Red = true
		default:
			return f, fmt.Errorf("unknown band %q", name)
		}
	}
	return f, nil
}
