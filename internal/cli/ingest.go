package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/bandwatch/internal/model"
)

var (
	ingestPlatform  string
	ingestOwner     string
	ingestDLP       string
	ingestDataClass string
	ingestScope     []string
	ingestAutonomy  string
	ingestAudience  int
	ingestTools     []string
	ingestSourceTS  string
)

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestPlatform, "platform", "", "Agent platform")
	ingestCmd.Flags().StringVar(&ingestOwner, "owner", "", "Owner email")
	ingestCmd.Flags().StringVar(&ingestDLP, "dlp-template", "", "DLP template name")
	ingestCmd.Flags().StringVar(&ingestDataClass, "data-class", "", "Data classification (public/internal/confidential)")
	ingestCmd.Flags().StringSliceVar(&ingestScope, "output-scope", nil, "Output destinations (e.g. api_external,internal_only)")
	ingestCmd.Flags().StringVar(&ingestAutonomy, "autonomy", "", "Autonomy level (readonly/auto_action)")
	ingestCmd.Flags().IntVar(&ingestAudience, "audience", -1, "Audience size, bucketed into reach")
	ingestCmd.Flags().StringSliceVar(&ingestTools, "external-tools", nil, "External tool integrations")
	ingestCmd.Flags().StringVar(&ingestSourceTS, "source-ts", "", "Signal source timestamp, RFC 3339 (default now)")
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <agent-id>",
	Short: "Record an agent's signal set",
	Long: "Upserts the agent and applies its latest signals. Updates carrying an\n" +
		"older source timestamp than the stored one are reported and skipped.",
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	sourceTS := time.Now()
	if ingestSourceTS != "" {
		sourceTS, err = time.Parse(time.RFC3339, ingestSourceTS)
		if err != nil {
			return fmt.Errorf("--source-ts must be RFC 3339: %w", err)
		}
	}

	ctx := context.Background()
	now := time.Now()
	if err := st.UpsertAgent(ctx, model.Agent{
		ID:          args[0],
		Platform:    ingestPlatform,
		Owner:       ingestOwner,
		DLPTemplate: ingestDLP,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		return err
	}

	var reach model.Reach
	if ingestAudience >= 0 {
		reach = model.BucketReach(ingestAudience)
	}
	applied, err := st.PutSignals(ctx, args[0], model.SignalSet{
		DataClass:     model.DataClass(ingestDataClass),
		OutputScope:   ingestScope,
		Autonomy:      model.Autonomy(ingestAutonomy),
		Reach:         reach,
		ExternalTools: ingestTools,
		SourceTS:      sourceTS,
	})
	if err != nil {
		return err
	}
	if !applied {
		fmt.Printf("skipped: stored signals for %s are newer than %s\n", args[0], sourceTS.Format(time.RFC3339))
		return nil
	}
	fmt.Printf("signals recorded for %s\n", args[0])
	return nil
}
