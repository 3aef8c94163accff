package match

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ppiankov/promiselink/internal/extract"
	"github.com/ppiankov/promiselink/internal/llm"
	"github.com/ppiankov/promiselink/internal/logger"
	"github.com/ppiankov/promiselink/internal/model"
	"github.com/ppiankov/promiselink/internal/normalize"
	"github.com/ppiankov/promiselink/internal/worker"
)

// embedChunk bounds how many promise texts go into one embedding request
const embedChunk = 128

// Mode says which signal drives the combined score
type Mode string

const (
	ModeSemantic Mode = "semantic" // Embedding similarity
	ModeKeyword  Mode = "keyword"  // No embedder configured, keyword overlap only
)

// Options tunes scoring. See OptionsFromConfig for the configured values.
type Options struct {
	TopK                  int
	DepartmentBoost       float64
	ImportantTermBoost    float64
	MaxImportantTermBoost float64
	ImportantTermWeight   float64
	DepartmentTokenWeight float64
	ImportantTerms        []string
}

// OptionsFromConfig copies the matching section of the run config
func OptionsFromConfig(c model.MatchingConfig) Options {
	return Options{
		TopK:                  c.TopK,
		DepartmentBoost:       c.DepartmentBoost,
		ImportantTermBoost:    c.ImportantTermBoost,
		MaxImportantTermBoost: c.MaxImportantTermBoost,
		ImportantTermWeight:   c.ImportantTermWeight,
		DepartmentTokenWeight: c.DepartmentTokenWeight,
		ImportantTerms:        append([]string(nil), c.ImportantTerms...),
	}
}

// Candidate is one ranked promise for an evidence item
type Candidate struct {
	PromiseID       string  `json:"promise_id"`
	SemanticScore   float64 `json:"semantic_score"`
	KeywordScore    float64 `json:"keyword_score"`
	DepartmentBoost float64 `json:"department_boost"`
	TermBoost       float64 `json:"term_boost"`
	CombinedScore   float64 `json:"combined_score"`
	Mode            Mode    `json:"mode"`
}

// Generator ranks promises against evidence items. It holds no per-run state
// and is safe for concurrent use once built.
type Generator struct {
	normalizer *normalize.Normalizer
	embedder   llm.Embedder
	opts       Options
	terms      []string // folded important terms
	log        *zap.Logger
}

// NewGenerator creates a generator. A nil embedder selects keyword mode.
func NewGenerator(n *normalize.Normalizer, embedder llm.Embedder, opts Options, log *zap.Logger) *Generator {
	if n == nil {
		n = normalize.New(nil, 0)
	}
	if opts.TopK <= 0 {
		opts.TopK = 10
	}

	seen := make(map[string]bool)
	var terms []string
	for _, term := range opts.ImportantTerms {
		folded := extract.Fold(term)
		if folded == "" || seen[folded] {
			continue
		}
		seen[folded] = true
		terms = append(terms, folded)
	}
	sort.Strings(terms)

	return &Generator{
		normalizer: n,
		embedder:   embedder,
		opts:       opts,
		terms:      terms,
		log:        logger.OrNop(log),
	}
}

// Mode reports whether the generator scores by embeddings or by keywords
func (g *Generator) Mode() Mode {
	if g.embedder == nil {
		return ModeKeyword
	}
	return ModeSemantic
}

// features are the per-record inputs to scoring, computed once
type features struct {
	text        string
	keywords    map[string]bool
	departments map[string]bool // folded canonical names
	deptTokens  map[string]bool
	terms       map[string]bool
}

type indexEntry struct {
	promise    model.Promise
	department string // folded canonical name, "" when unset
	features
	vector []float32
}

// Index is the run-scoped, read-only promise corpus
type Index struct {
	entries []indexEntry
	byID    map[string]int
	mode    Mode
}

// Len returns the number of indexed promises
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.entries)
}

// Promise returns the indexed promise with the given id
func (idx *Index) Promise(id string) (model.Promise, bool) {
	if idx == nil {
		return model.Promise{}, false
	}
	i, ok := idx.byID[id]
	if !ok {
		return model.Promise{}, false
	}
	return idx.entries[i].promise, true
}

// BuildIndex normalizes every promise and, in semantic mode, embeds them all
func (g *Generator) BuildIndex(ctx context.Context, promises []model.Promise) (*Index, error) {
	idx := &Index{
		entries: make([]indexEntry, 0, len(promises)),
		byID:    make(map[string]int, len(promises)),
		mode:    g.Mode(),
	}

	for _, p := range promises {
		if p.ID == "" {
			continue
		}
		if _, dup := idx.byID[p.ID]; dup {
			continue
		}
		dept := g.normalizer.Departments().Canonical(p.ResponsibleDepartment)
		var depts []string
		if dept != "" {
			depts = []string{dept}
		}
		entry := indexEntry{
			promise:    p,
			department: extract.Fold(dept),
			features:   g.extractFeatures(g.normalizer.Promise(p), p.Keywords, depts),
		}
		idx.byID[p.ID] = len(idx.entries)
		idx.entries = append(idx.entries, entry)
	}

	if g.embedder == nil || len(idx.entries) == 0 {
		return idx, nil
	}

	// Promises without text keep a nil vector and score 0 semantically
	var positions []int
	var texts []string
	for i, e := range idx.entries {
		if e.text != "" {
			positions = append(positions, i)
			texts = append(texts, e.text)
		}
	}

	done := 0
	for _, chunk := range worker.Batches(texts, embedChunk) {
		vecs, err := g.embedder.Embed(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("embed promises: %w", err)
		}
		if len(vecs) != len(chunk) {
			return nil, fmt.Errorf("embed promises: got %d vectors for %d texts", len(vecs), len(chunk))
		}
		for j, vec := range vecs {
			idx.entries[positions[done+j]].vector = vec
		}
		done += len(chunk)
	}

	g.log.Debug("promise index built",
		zap.Int("promises", len(idx.entries)),
		zap.Int("embedded", done),
		zap.String("mode", string(idx.mode)))
	return idx, nil
}

// Generate ranks the indexed promises against one evidence item and returns at
// most TopK candidates. An empty index or evidence without text gives an empty list.
func (g *Generator) Generate(ctx context.Context, idx *Index, e model.EvidenceItem) ([]Candidate, error) {
	if idx.Len() == 0 {
		return nil, nil
	}

	if !normalize.HasText(e) {
		return nil, nil
	}
	departments := g.normalizer.Departments().CanonicalAll(e.Departments)
	ev := g.extractFeatures(g.normalizer.Evidence(e), e.KeyConcepts, departments)

	var vector []float32
	if idx.mode == ModeSemantic && g.embedder != nil {
		vecs, err := g.embedder.Embed(ctx, []string{ev.text})
		if err != nil {
			return nil, fmt.Errorf("embed evidence %s: %w", e.ID, err)
		}
		if len(vecs) != 1 {
			return nil, fmt.Errorf("embed evidence %s: got %d vectors", e.ID, len(vecs))
		}
		vector = vecs[0]
	}

	candidates := make([]Candidate, 0, len(idx.entries))
	for i := range idx.entries {
		candidates = append(candidates, g.score(idx.mode, &idx.entries[i], ev, vector))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].CombinedScore != candidates[j].CombinedScore {
			return candidates[i].CombinedScore > candidates[j].CombinedScore
		}
		return candidates[i].PromiseID < candidates[j].PromiseID
	})

	if len(candidates) > g.opts.TopK {
		candidates = candidates[:g.opts.TopK]
	}
	return candidates, nil
}

func (g *Generator) score(mode Mode, p *indexEntry, ev features, vector []float32) Candidate {
	sharedTerms := Overlap(ev.terms, p.terms)

	keyword := Jaccard(ev.keywords, p.keywords) +
		g.opts.ImportantTermWeight*float64(sharedTerms) +
		g.opts.DepartmentTokenWeight*float64(Overlap(ev.deptTokens, p.deptTokens))
	keyword = capScore(keyword)

	var deptBoost float64
	if p.department != "" && ev.departments[p.department] {
		deptBoost = g.opts.DepartmentBoost
	}

	termBoost := g.opts.ImportantTermBoost * float64(sharedTerms)
	if termBoost > g.opts.MaxImportantTermBoost {
		termBoost = g.opts.MaxImportantTermBoost
	}

	c := Candidate{
		PromiseID:       p.promise.ID,
		KeywordScore:    keyword,
		DepartmentBoost: deptBoost,
		TermBoost:       termBoost,
		Mode:            mode,
	}

	base := keyword
	if mode == ModeSemantic {
		c.SemanticScore = SemanticScore(vector, p.vector)
		base = c.SemanticScore
	}
	c.CombinedScore = capScore(base + deptBoost + termBoost)
	return c
}

// extractFeatures folds keywords, departments and important terms for one
// record. An empty keyword list falls back to keywords extracted from the text.
func (g *Generator) extractFeatures(text string, keywords, departments []string) features {
	f := features{
		text:        text,
		keywords:    extract.KeywordSet(keywords),
		departments: make(map[string]bool, len(departments)),
		deptTokens:  extract.KeywordSet(departments),
		terms:       make(map[string]bool),
	}
	if len(f.keywords) == 0 {
		f.keywords = extract.KeywordSet([]string{text})
	}
	for _, d := range departments {
		if folded := extract.Fold(d); folded != "" {
			f.departments[folded] = true
		}
	}

	haystack := text
	for _, k := range keywords {
		haystack += "\n" + k
	}
	for _, term := range g.terms {
		if extract.ContainsPhrase(haystack, term) {
			f.terms[term] = true
		}
	}
	return f
}
