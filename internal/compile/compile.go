// Package compile implements the context compiler: it turns retrieved,
// reranked chunks into a structured output package, generalizing a raw
// search-hit list (score fields, chunk reference) into a budgeted,
// deduplicated, cited context package. Token budget accounting goes
// through internal/tokenize, the same tokenizer the text and brace-fallback
// chunkers use. The AST and markdown chunkers estimate tokens as len/4, and
// the BM25 index tokenizes with bleve's default analyzer.
package compile

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Aman-CERP/cpe/internal/tokenize"
)

// nearDuplicateThreshold is the fixed cosine cutoff for deduplication.
const nearDuplicateThreshold = 0.95

// Deduplication is a hard cosine cutoff, not MMR (MMR lives in
// internal/rerank and runs before compilation).

// budget fractions allocated across the compiled package's sections.
const (
	outlineFraction  = 0.10
	snippetFraction  = 0.70
	glossaryFraction = 0.10
	risksFraction    = 0.10
)

// Snippet is one retrieved chunk ready for inclusion, already reranked.
type Snippet struct {
	ChunkID string
	Path    string
	Text    string
	Score   float64
	Vector  []float32
}

// GlossaryTerm is a term/definition pair sourced from a chunk, e.g. a
// doc-comment or README definition list entry.
type GlossaryTerm struct {
	Term       string
	Definition string
	ChunkID    string
}

// Citation points a compiled snippet or term back to the chunk it came from.
type Citation struct {
	ID    string  `json:"id"`
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

// CoreSnippet is a compiled snippet with its resolved citation.
type CoreSnippet struct {
	Text     string   `json:"text"`
	Citation Citation `json:"citation"`
}

// GlossaryEntry is a compiled glossary term with its resolved citation.
type GlossaryEntry struct {
	Term       string   `json:"term"`
	Definition string   `json:"def"`
	Citation   Citation `json:"citation"`
}

// Package is the compiler's structured output.
type Package struct {
	Outline      []string        `json:"outline"`
	CoreSnippets []CoreSnippet   `json:"core_snippets"`
	Glossary     []GlossaryEntry `json:"glossary"`
	Risks        []string        `json:"risks"`
	Citations    []Citation      `json:"citations"`
}

// Input bundles everything the compiler needs for one query.
type Input struct {
	Snippets  []Snippet
	Glossary  []GlossaryTerm
	Risks     []string // pre-extracted risk notes (e.g. from a TODO/FIXME scan); pass-through, budget-packed like snippets
	MaxTokens int
}

// Compile runs the five-step compilation algorithm: dedup, order, budget,
// extract glossary/risks, and assemble citations.
func Compile(in Input) (*Package, error) {
	deduped := dedupeNearDuplicates(in.Snippets)
	ordered := orderBySectionAffinityThenScore(deduped)

	total := in.MaxTokens
	if total <= 0 {
		total = defaultTotalBudget(ordered)
	}

	outlineBudget := int(float64(total) * outlineFraction)
	snippetBudget := int(float64(total) * snippetFraction)
	glossaryBudget := int(float64(total) * glossaryFraction)
	risksBudget := int(float64(total) * risksFraction)

	outline := buildOutline(ordered, outlineBudget)

	coreSnippets, citedIDs := packSnippets(ordered, snippetBudget)

	glossary := packGlossary(in.Glossary, glossaryBudget)

	risks := packRisks(in.Risks, risksBudget)

	citations := make([]Citation, 0, len(citedIDs))
	for _, c := range coreSnippets {
		citations = append(citations, c.Citation)
	}
	for _, g := range glossary {
		citations = append(citations, g.Citation)
	}

	return &Package{
		Outline:      outline,
		CoreSnippets: coreSnippets,
		Glossary:     glossary,
		Risks:        risks,
		Citations:    citations,
	}, nil
}

// dedupeNearDuplicates implements step 1: drop any snippet whose vector is
// cosine-similar (>= 0.95) to an already-kept snippet, processing in
// descending-score order so the higher-scored member of a near-duplicate
// pair survives.
func dedupeNearDuplicates(snippets []Snippet) []Snippet {
	sorted := make([]Snippet, len(snippets))
	copy(sorted, snippets)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	kept := make([]Snippet, 0, len(sorted))
	for _, s := range sorted {
		duplicate := false
		for _, k := range kept {
			if s.Vector == nil || k.Vector == nil {
				continue
			}
			if cosineSimilarity(s.Vector, k.Vector) >= nearDuplicateThreshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, s)
		}
	}
	return kept
}

// orderBySectionAffinityThenScore implements step 2: group by file path
// prefix (the directory a chunk's path lives under), then within a group
// sort by descending score. Groups themselves are ordered by their
// highest-scoring member, so the section containing the best hit leads.
func orderBySectionAffinityThenScore(snippets []Snippet) []Snippet {
	groups := map[string][]Snippet{}
	var groupOrder []string
	groupBest := map[string]float64{}

	for _, s := range snippets {
		section := sectionOf(s.Path)
		if _, ok := groups[section]; !ok {
			groupOrder = append(groupOrder, section)
		}
		groups[section] = append(groups[section], s)
		if s.Score > groupBest[section] {
			groupBest[section] = s.Score
		}
	}

	sort.SliceStable(groupOrder, func(i, j int) bool {
		return groupBest[groupOrder[i]] > groupBest[groupOrder[j]]
	})

	out := make([]Snippet, 0, len(snippets))
	for _, section := range groupOrder {
		group := groups[section]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Score > group[j].Score })
		out = append(out, group...)
	}
	return out
}

func sectionOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

// buildOutline derives section titles from the ordered snippets' section
// affinity grouping, packed within outlineBudget tokens.
func buildOutline(ordered []Snippet, budget int) []string {
	seen := map[string]bool{}
	var outline []string
	used := 0
	for _, s := range ordered {
		section := sectionOf(s.Path)
		if seen[section] {
			continue
		}
		cost := tokenize.Count(section)
		if used+cost > budget {
			break
		}
		seen[section] = true
		outline = append(outline, section)
		used += cost
	}
	return outline
}

// packSnippets implements steps 3-4: greedy pack within snippetBudget,
// longest score-weighted first, dropping any snippet whose citation can't
// be constructed (here, a snippet with an empty chunk id).
func packSnippets(ordered []Snippet, budget int) ([]CoreSnippet, []string) {
	weighted := make([]Snippet, len(ordered))
	copy(weighted, ordered)
	sort.SliceStable(weighted, func(i, j int) bool {
		return weighted[i].Score*float64(tokenize.Count(weighted[i].Text)) >
			weighted[j].Score*float64(tokenize.Count(weighted[j].Text))
	})

	var out []CoreSnippet
	var ids []string
	used := 0
	for _, s := range weighted {
		citation, err := buildCitation(s.ChunkID, s.Path, s.Score)
		if err != nil {
			continue // step 4: drop on citation-construction failure
		}
		cost := tokenize.Count(s.Text)
		if used+cost > budget {
			continue
		}
		out = append(out, CoreSnippet{Text: s.Text, Citation: citation})
		ids = append(ids, s.ChunkID)
		used += cost
	}

	// Restore section-affinity/score order for the final output (steps 2,5):
	// packing order above is by density to maximize budget use, but the
	// emitted order must match the deterministic ordering from step 2.
	orderIndex := make(map[string]int, len(ordered))
	for i, s := range ordered {
		orderIndex[s.ChunkID] = i
	}
	sort.SliceStable(out, func(i, j int) bool {
		return orderIndex[out[i].Citation.ID] < orderIndex[out[j].Citation.ID]
	})

	return out, ids
}

func packGlossary(terms []GlossaryTerm, budget int) []GlossaryEntry {
	sorted := make([]GlossaryTerm, len(terms))
	copy(sorted, terms)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Term < sorted[j].Term })

	var out []GlossaryEntry
	used := 0
	for _, t := range sorted {
		citation, err := buildCitation(t.ChunkID, "", 0)
		if err != nil {
			continue
		}
		cost := tokenize.Count(t.Term) + tokenize.Count(t.Definition)
		if used+cost > budget {
			continue
		}
		out = append(out, GlossaryEntry{Term: t.Term, Definition: t.Definition, Citation: citation})
		used += cost
	}
	return out
}

func packRisks(risks []string, budget int) []string {
	var out []string
	used := 0
	for _, r := range risks {
		cost := tokenize.Count(r)
		if used+cost > budget {
			break
		}
		out = append(out, r)
		used += cost
	}
	return out
}

func buildCitation(chunkID, path string, score float64) (Citation, error) {
	if chunkID == "" {
		return Citation{}, fmt.Errorf("compile: cannot build citation without a chunk id")
	}
	return Citation{ID: chunkID, Path: path, Score: score}, nil
}

func defaultTotalBudget(snippets []Snippet) int {
	total := 0
	for _, s := range snippets {
		total += tokenize.Count(s.Text)
	}
	if total == 0 {
		return 1
	}
	return total
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
