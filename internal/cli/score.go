package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/promiselink/internal/extract"
	"github.com/ppiankov/promiselink/internal/score"
)

var (
	scoreSession string
	scoreDryRun  bool
)

// scoreCmd represents the score command
var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Recompute promise progress scores from linked evidence",
	Long: `Score derives a 1-5 progress level for each promise from the evidence
linked to it. Each score carries the signals it was computed from.

The score summarizes what evidence exists. It is not a verdict on whether
a promise was kept.

Example:
  promiselink score --session 44-1
  promiselink score --dry-run`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := score.NewScorer().ScoreSession(ctx, a.store, scoreSession, scoreDryRun, a.log.Named("score"))
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PROMISE\tBEFORE\tSCORE\tEVIDENCE\tTEXT")
		for _, r := range results {
			fmt.Fprintf(tw, "%s\t%d\t%d %s\t%d\t%s\n",
				r.PromiseID, r.Previous, r.Score.Score, r.Score.Label, r.Score.EvidenceN, extract.Truncate(r.Text, 60))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if scoreDryRun {
			fmt.Fprintln(os.Stderr, "Dry run: scores were not stored")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)

	scoreCmd.Flags().StringVar(&scoreSession, "session", "", "parliamentary session id (default: all sessions)")
	scoreCmd.Flags().BoolVar(&scoreDryRun, "dry-run", false, "print scores without storing them")
}
