package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ppiankov/promiselink/internal/decide"
	"github.com/ppiankov/promiselink/internal/extract"
	"github.com/ppiankov/promiselink/internal/match"
	"github.com/ppiankov/promiselink/internal/model"
)

// previewTitleRunes bounds titles and promise texts in the preview table
const previewTitleRunes = 60

// previewEntries flattens an item's decisions for manual audit
func previewEntries(e model.EvidenceItem, res decide.Result, idx *match.Index) []model.PreviewEntry {
	out := make([]model.PreviewEntry, 0, len(res.Decisions))
	for _, d := range res.Decisions {
		entry := model.PreviewEntry{
			EvidenceID:    e.ID,
			EvidenceTitle: e.Title,
			SourceType:    e.SourceType,
			PromiseID:     d.Candidate.PromiseID,
			CombinedScore: d.Candidate.CombinedScore,
			SemanticScore: d.Candidate.SemanticScore,
			KeywordScore:  d.Candidate.KeywordScore,
			Outcome:       string(d.Outcome),
			Accepted:      d.Accepted,
			Method:        d.Method,
			Confidence:    d.Confidence,
		}
		if p, ok := idx.Promise(d.Candidate.PromiseID); ok {
			entry.PromiseText = p.Text
		}
		if d.Verdict != nil {
			entry.RelevanceLevel = d.Verdict.RelevanceLevel
			entry.Rationale = d.Verdict.Rationale
		}
		if d.Err != nil && entry.Rationale == "" {
			entry.Rationale = d.Err.Error()
		}
		out = append(out, entry)
	}
	return out
}

// RenderJSON writes the run summary (with the preview, if any) as indented JSON
func RenderJSON(summary *model.RunSummary, path string) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

// RenderMarkdown writes the run summary and the preview as a Markdown report
func RenderMarkdown(summary *model.RunSummary, path string) error {
	return writeFile(path, []byte(Markdown(summary)))
}

// Markdown formats the run summary and preview for review in a pull request or issue
func Markdown(summary *model.RunSummary) string {
	var b strings.Builder

	title := "Linking run"
	if summary.DryRun {
		title = "Linking preview (dry run)"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- Run: `%s`\n", summary.RunID)
	if summary.Session != "" {
		fmt.Fprintf(&b, "- Session: %s\n", summary.Session)
	}
	fmt.Fprintf(&b, "- Started: %s\n", summary.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- Duration: %s\n", summary.Duration.Round(time.Millisecond))
	if summary.Aborted != "" {
		fmt.Fprintf(&b, "- **Aborted:** %s\n", summary.Aborted)
	}

	b.WriteString("\n## Totals\n\n")
	b.WriteString("| Metric | Value |\n|---|---:|\n")
	for _, row := range summaryRows(summary) {
		fmt.Fprintf(&b, "| %s | %d |\n", row.label, row.value)
	}

	if len(summary.Preview) == 0 {
		return b.String()
	}

	b.WriteString("\n## Candidates\n")
	for _, group := range groupByEvidence(summary.Preview) {
		first := group[0]
		fmt.Fprintf(&b, "\n### %s (%s)\n\n", markdownEscape(first.EvidenceTitle), first.SourceType)
		fmt.Fprintf(&b, "Evidence `%s`\n\n", first.EvidenceID)
		b.WriteString("| Promise | Combined | Semantic | Keyword | Outcome | Method | Relevance |\n")
		b.WriteString("|---|---:|---:|---:|---|---|---|\n")
		for _, entry := range group {
			fmt.Fprintf(&b, "| `%s` %s | %.3f | %.3f | %.3f | %s | %s | %s |\n",
				entry.PromiseID,
				markdownEscape(extract.Truncate(entry.PromiseText, previewTitleRunes)),
				entry.CombinedScore,
				entry.SemanticScore,
				entry.KeywordScore,
				outcomeLabel(entry),
				entry.Method,
				entry.RelevanceLevel)
		}
		for _, entry := range group {
			if entry.Accepted && entry.Rationale != "" {
				fmt.Fprintf(&b, "\n> `%s`: %s\n", entry.PromiseID, markdownEscape(entry.Rationale))
			}
		}
	}

	return b.String()
}

// RenderSummary prints the run totals and, for dry runs, the accepted links as a table
func RenderSummary(w io.Writer, summary *model.RunSummary) {
	header := "Linking run"
	if summary.DryRun {
		header = "Linking preview (dry run, nothing written)"
	}
	fmt.Fprintf(w, "%s %s\n", header, summary.RunID)
	if summary.Aborted != "" {
		fmt.Fprintf(w, "⚠ Aborted: %s\n", summary.Aborted)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, row := range summaryRows(summary) {
		fmt.Fprintf(tw, "  %s\t%d\n", row.label, row.value)
	}
	fmt.Fprintf(tw, "  Duration\t%s\n", summary.Duration.Round(time.Millisecond))
	_ = tw.Flush()

	var accepted []model.PreviewEntry
	for _, entry := range summary.Preview {
		if entry.Accepted {
			accepted = append(accepted, entry)
		}
	}
	if len(accepted) == 0 {
		return
	}

	fmt.Fprintf(w, "\nAccepted links (%d):\n", len(accepted))
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  EVIDENCE\tPROMISE\tSCORE\tMETHOD\tTITLE")
	for _, entry := range accepted {
		fmt.Fprintf(tw, "  %s\t%s\t%.3f\t%s\t%s\n",
			entry.EvidenceID,
			entry.PromiseID,
			entry.Confidence,
			entry.Method,
			extract.Truncate(entry.EvidenceTitle, previewTitleRunes))
	}
	_ = tw.Flush()
}

type summaryRow struct {
	label string
	value int
}

func summaryRows(s *model.RunSummary) []summaryRow {
	return []summaryRow{
		{"Promises loaded", s.PromisesLoaded},
		{"Evidence selected", s.EvidenceSelected},
		{"Evidence processed", s.EvidenceProcessed},
		{"Candidates generated", s.CandidatesGenerated},
		{"Validator calls", s.ValidatorCalls},
		{"Validator errors", s.ValidatorErrors},
		{"Bypassed", s.Bypassed},
		{"Links created", s.LinksCreated},
		{"Errors", s.Errors},
	}
}

// groupByEvidence keeps preview entries of one item together, items in first-seen order
func groupByEvidence(entries []model.PreviewEntry) [][]model.PreviewEntry {
	order := make(map[string]int)
	var groups [][]model.PreviewEntry
	for _, entry := range entries {
		i, ok := order[entry.EvidenceID]
		if !ok {
			i = len(groups)
			order[entry.EvidenceID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], entry)
	}
	for _, g := range groups {
		sort.SliceStable(g, func(a, b int) bool { return g[a].CombinedScore > g[b].CombinedScore })
	}
	return groups
}

func outcomeLabel(entry model.PreviewEntry) string {
	if entry.Accepted {
		return "✓ " + entry.Outcome
	}
	return entry.Outcome
}

func markdownEscape(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
