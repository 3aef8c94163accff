package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/promiselink/internal/model"
	"github.com/ppiankov/promiselink/internal/store"
)

var auditRepair bool

// auditCmd represents the audit command
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Check that every link exists on both sides",
	Long: `Audit compares promise link lists with evidence link lists and reports
half-links. With --repair, half-links are removed and the evidence items
involved go back to pending.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.store.Audit(ctx, auditRepair)
		if err != nil {
			return err
		}
		printAudit(report)

		if !report.Consistent() && !auditRepair {
			return fmt.Errorf("found %d half-link(s), rerun with --repair", len(report.PromiseOnly)+len(report.EvidenceOnly))
		}
		return nil
	},
}

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Count evidence items per linking status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		session, _ := cmd.Flags().GetString("session")
		counts, err := a.store.CountByStatus(ctx, session)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "STATUS\tITEMS")
		for _, s := range []model.LinkingStatus{model.StatusPending, model.StatusProcessing, model.StatusProcessed, model.StatusError} {
			fmt.Fprintf(tw, "%s\t%d\n", s, counts[s])
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(statusCmd)

	auditCmd.Flags().BoolVar(&auditRepair, "repair", false, "remove half-links and return affected evidence to pending")
	statusCmd.Flags().String("session", "", "parliamentary session id (default: all sessions)")
}

func printAudit(r *store.AuditReport) {
	fmt.Fprintf(os.Stderr, "Promises: %d  Evidence: %d  Links: %d\n", r.Promises, r.Evidence, r.Links)
	if r.Consistent() {
		fmt.Fprintln(os.Stderr, "✓ Every link is present on both sides")
		return
	}

	tw := tabwriter.NewWriter(os.Stderr, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SIDE\tPROMISE\tEVIDENCE")
	for _, p := range r.PromiseOnly {
		fmt.Fprintf(tw, "promise only\t%s\t%s\n", p.PromiseID, p.EvidenceID)
	}
	for _, p := range r.EvidenceOnly {
		fmt.Fprintf(tw, "evidence only\t%s\t%s\n", p.PromiseID, p.EvidenceID)
	}
	_ = tw.Flush()

	if len(r.Repaired) > 0 {
		fmt.Fprintf(os.Stderr, "✓ Repaired %d evidence item(s), now pending\n", len(r.Repaired))
	}
}
