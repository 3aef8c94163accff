package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/promiselink/internal/logger"
	"github.com/ppiankov/promiselink/internal/pipeline"
)

// loadCmd represents the load command
var loadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Load promises and evidence from a YAML or JSON file",
	Long: `Load upserts the promises and evidence items of a record file.

Content fields are replaced; link lists, linking status and progress
scores are kept. Evidence with an unknown source type or an unreadable
date is stored with status error.

Example:
  promiselink load records.yaml
  promiselink load export.json --db postgres://localhost/promises --driver postgres`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		set, err := pipeline.ReadRecords(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		promises, err := a.store.UpsertPromises(ctx, set.Promises)
		if err != nil {
			return fmt.Errorf("load promises: %w", err)
		}
		evidence, err := a.store.UpsertEvidence(ctx, set.Evidence)
		if err != nil {
			return fmt.Errorf("load evidence: %w", err)
		}
		for _, r := range set.Rejected {
			if err := a.store.MarkError(ctx, r.ID, r.Reason); err != nil {
				return fmt.Errorf("mark %s: %w", r.ID, err)
			}
			a.log.Warn("evidence rejected",
				zap.String(logger.FieldEvidenceID, r.ID),
				zap.String("reason", r.Reason))
		}

		fmt.Fprintf(os.Stderr, "✓ Loaded %d promise(s) and %d evidence item(s)", promises, evidence)
		if len(set.Rejected) > 0 {
			fmt.Fprintf(os.Stderr, ", %d marked error", len(set.Rejected))
		}
		fmt.Fprintln(os.Stderr)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loadCmd)
}
