package normalize

import (
	"strings"

	"github.com/ppiankov/promiselink/internal/extract"
	"github.com/ppiankov/promiselink/internal/model"
)

// DefaultMaxLength is the rune budget of a comparison string
const DefaultMaxLength = 1000

// Normalizer turns records into the comparison strings fed to the embedder and
// the keyword scorer.
type Normalizer struct {
	departments *DepartmentTable
	maxLength   int
}

// New creates a normalizer. A nil table leaves department names folded but
// otherwise unresolved; maxLength <= 0 selects DefaultMaxLength.
func New(departments *DepartmentTable, maxLength int) *Normalizer {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Normalizer{
		departments: departments,
		maxLength:   maxLength,
	}
}

// Departments returns the lookup table the normalizer resolves names with
func (n *Normalizer) Departments() *DepartmentTable {
	return n.departments
}

// Promise builds the comparison string for a promise: text, description,
// background, responsible department.
func (n *Normalizer) Promise(p model.Promise) string {
	return n.join(
		p.Text,
		p.Description,
		p.Background,
		n.departments.Canonical(p.ResponsibleDepartment),
	)
}

// Evidence builds the comparison string for an evidence item: title, description
// with markup stripped, bill fields (bill events only), departments.
func (n *Normalizer) Evidence(e model.EvidenceItem) string {
	parts := []string{
		e.Title,
		extract.VisibleText(e.Description),
	}
	if e.SourceType == model.SourceBillEvent {
		parts = append(parts, e.BillNumber, e.BillLongTitle, extract.VisibleText(e.BillSummary))
	}
	parts = append(parts, strings.Join(n.departments.CanonicalAll(e.Departments), ", "))
	return n.join(parts...)
}

// HasText reports whether an evidence item carries any text to compare:
// title, description or, for bill events, the bill fields. Departments alone
// do not count.
func HasText(e model.EvidenceItem) bool {
	fields := []string{e.Title, extract.VisibleText(e.Description)}
	if e.SourceType == model.SourceBillEvent {
		fields = append(fields, e.BillNumber, e.BillLongTitle, extract.VisibleText(e.BillSummary))
	}
	for _, f := range fields {
		if extract.CollapseSpace(f) != "" {
			return true
		}
	}
	return false
}

// join skips empty parts, collapses whitespace within each, one part per line
func (n *Normalizer) join(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = extract.CollapseSpace(part); part != "" {
			kept = append(kept, part)
		}
	}
	return extract.Truncate(strings.Join(kept, "\n"), n.maxLength)
}
