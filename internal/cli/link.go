package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/promiselink/internal/model"
	"github.com/ppiankov/promiselink/internal/pipeline"
)

var (
	linkSession     string
	linkLimit       int
	linkForce       bool
	linkDryRun      bool
	linkPreviewJSON string
	linkPreviewMD   string
	linkSummaryJSON string
	metricsAddr     string
)

// linkCmd represents the link command
var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link pending evidence to promises",
	Long: `Link runs one linking pass:
- Load the promise corpus (optionally one parliamentary session)
- Select pending evidence items, oldest first
- Rank promise candidates by semantic and keyword similarity
- Confirm borderline candidates with the relevance classifier
- Write accepted links to both sides in one transaction per item

Example:
  promiselink link --session 44-1
  promiselink link --session 44-1 --limit 50 --dry-run --preview-md preview.md
  promiselink link --force --metrics-addr :9090`,
	Args: cobra.NoArgs,
	RunE: runLink,
}

func init() {
	rootCmd.AddCommand(linkCmd)

	linkCmd.Flags().StringVar(&linkSession, "session", "", "parliamentary session id (default: all sessions)")
	linkCmd.Flags().IntVar(&linkLimit, "limit", 0, "maximum evidence items to process (0 = no limit)")
	linkCmd.Flags().BoolVar(&linkForce, "force", false, "reprocess items that were already processed")
	linkCmd.Flags().BoolVar(&linkDryRun, "dry-run", false, "decide links without writing anything")
	linkCmd.Flags().StringVar(&linkPreviewJSON, "preview-json", "", "write the dry-run preview as JSON")
	linkCmd.Flags().StringVar(&linkPreviewMD, "preview-md", "", "write the dry-run preview as Markdown")
	linkCmd.Flags().StringVar(&linkSummaryJSON, "summary-json", "", "write the run summary as JSON")
	linkCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
}

func runLink(cmd *cobra.Command, args []string) error {
	if (linkPreviewJSON != "" || linkPreviewMD != "") && !linkDryRun {
		return fmt.Errorf("--preview-json and --preview-md require --dry-run")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		shutdown := serveMetrics(a, metricsAddr)
		defer shutdown()
	}

	summary, runErr := p.Run(ctx, pipeline.RunOptions{
		Session: linkSession,
		Limit:   linkLimit,
		Force:   linkForce,
		DryRun:  linkDryRun,
	})
	if summary != nil {
		if err := writeRunOutputs(summary); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}

	if summary.Errors > 0 {
		a.log.Warn("some evidence items failed", zap.Int("errors", summary.Errors))
	}
	return nil
}

func writeRunOutputs(summary *model.RunSummary) error {
	pipeline.RenderSummary(os.Stderr, summary)
	if linkSummaryJSON != "" {
		if err := pipeline.RenderJSON(summary, linkSummaryJSON); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✓ Summary written to %s\n", linkSummaryJSON)
	}
	if linkPreviewJSON != "" {
		if err := pipeline.RenderJSON(summary, linkPreviewJSON); err != nil {
			return fmt.Errorf("write JSON preview: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✓ JSON preview written to %s\n", linkPreviewJSON)
	}
	if linkPreviewMD != "" {
		if err := pipeline.RenderMarkdown(summary, linkPreviewMD); err != nil {
			return fmt.Errorf("write Markdown preview: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✓ Markdown preview written to %s\n", linkPreviewMD)
	}
	return nil
}

// serveMetrics exposes the run's Prometheus registry until the returned
// function is called
func serveMetrics(a *app, addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	a.log.Info("serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
