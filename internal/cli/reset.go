package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/ppiankov/promiselink/internal/model"
	"github.com/ppiankov/promiselink/internal/store"
	"github.com/ppiankov/promiselink/internal/worker"
)

const (
	promptYes = "Yes"
	promptNo  = "No"
)

var errResetDeclined = errors.New("reset cancelled")

var (
	resetFromFile string
	resetSession  string
	resetStatuses []string
	resetYes      bool
)

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset [evidence-id...]",
	Short: "Remove links and return evidence to pending",
	Long: `Reset removes every link of the selected evidence items from both sides
and returns them to pending, so the next link run reconsiders them.

Items can be named as arguments, read from a file (one id per line),
or selected by session and status. Error items only become eligible again
through a reset.

Example:
  promiselink reset ev-123 ev-456
  promiselink reset --from-file ids.txt
  promiselink reset --session 44-1 --status error --yes`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().StringVar(&resetFromFile, "from-file", "", "read evidence ids from a file (one per line)")
	resetCmd.Flags().StringVar(&resetSession, "session", "", "select evidence of a parliamentary session")
	resetCmd.Flags().StringSliceVar(&resetStatuses, "status", nil, "select evidence in these statuses (pending, processing, processed, error)")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "do not ask for confirmation")
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := resetSelection(ctx, a.store, args)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "No evidence items selected")
		return nil
	}

	if !resetYes {
		prompt := promptui.Select{
			Label: fmt.Sprintf("Reset %d evidence item(s) and remove their links?", len(ids)),
			Items: []string{promptYes, promptNo},
		}
		_, choice, err := prompt.Run()
		if err != nil {
			return err
		}
		if choice != promptYes {
			return errResetDeclined
		}
	}

	n, err := a.store.Reset(ctx, ids)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "✓ Reset %d of %d evidence item(s)\n", n, len(ids))
	return nil
}

// resetSelection merges explicit ids, the id file and the session/status filter
func resetSelection(ctx context.Context, st *store.GormStore, args []string) ([]string, error) {
	ids := append([]string(nil), args...)

	if resetFromFile != "" {
		fromFile, err := worker.ReadIDsFromFile(resetFromFile)
		if err != nil {
			return nil, err
		}
		ids = append(ids, fromFile...)
	}

	if resetSession != "" || len(resetStatuses) > 0 {
		statuses, err := parseStatuses(resetStatuses)
		if err != nil {
			return nil, err
		}
		items, err := st.ListEvidence(ctx, store.EvidenceFilter{Session: resetSession, Statuses: statuses})
		if err != nil {
			return nil, err
		}
		for _, e := range items {
			ids = append(ids, e.ID)
		}
	}

	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

func parseStatuses(raw []string) ([]model.LinkingStatus, error) {
	out := make([]model.LinkingStatus, 0, len(raw))
	for _, r := range raw {
		s := model.LinkingStatus(r)
		switch s {
		case model.StatusPending, model.StatusProcessing, model.StatusProcessed, model.StatusError:
			out = append(out, s)
		default:
			return nil, fmt.Errorf("unknown linking status %q", r)
		}
	}
	return out, nil
}
