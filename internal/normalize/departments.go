package normalize

import (
	"sort"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/ppiankov/promiselink/internal/extract"
)

// MinDepartmentSimilarity is the Levenshtein similarity a department name needs
// to be mapped onto a canonical name it is not an alias of.
const MinDepartmentSimilarity = 0.85

// DepartmentTable resolves department names and aliases to canonical names.
// It is built once and never mutated, so it is safe for concurrent use.
type DepartmentTable struct {
	byKey     map[string]string // folded alias or canonical name -> canonical name
	canonical []string          // sorted canonical names
	folded    []string          // folded canonical names, parallel to canonical
}

// NewDepartmentTable builds a table from canonical name -> aliases
func NewDepartmentTable(aliases map[string][]string) *DepartmentTable {
	t := &DepartmentTable{
		byKey: make(map[string]string),
	}

	for name := range aliases {
		if extract.Fold(name) == "" {
			continue
		}
		t.canonical = append(t.canonical, name)
	}
	sort.Strings(t.canonical)

	for _, name := range t.canonical {
		key := extract.Fold(name)
		t.folded = append(t.folded, key)
		t.byKey[key] = name
	}
	// Aliases never shadow a canonical name, and the first canonical (sorted) wins
	// when two entries share an alias.
	for _, name := range t.canonical {
		for _, alias := range aliases[name] {
			key := extract.Fold(alias)
			if key == "" {
				continue
			}
			if _, taken := t.byKey[key]; !taken {
				t.byKey[key] = name
			}
		}
	}

	return t
}

// Canonical returns the canonical department name for raw. Unknown names come
// back folded, so two spellings of the same unknown department still compare equal.
func (t *DepartmentTable) Canonical(raw string) string {
	key := extract.Fold(raw)
	if key == "" {
		return ""
	}
	if t == nil {
		return key
	}
	if name, ok := t.byKey[key]; ok {
		return name
	}

	best, bestSim := -1, 0.0
	for i, folded := range t.folded {
		if sim := similarity(key, folded); sim > bestSim {
			best, bestSim = i, sim
		}
	}
	if best >= 0 && bestSim >= MinDepartmentSimilarity {
		return t.canonical[best]
	}
	return key
}

// CanonicalAll maps every name through Canonical, dropping empties and duplicates
func (t *DepartmentTable) CanonicalAll(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		name := t.Canonical(r)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// Names returns the canonical names in sorted order
func (t *DepartmentTable) Names() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.canonical...)
}

// similarity is 1 - distance/maxRunes, in [0,1]
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}
