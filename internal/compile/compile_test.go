package compile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileDropsNearDuplicateSnippets(t *testing.T) {
	in := Input{
		Snippets: []Snippet{
			{ChunkID: "a", Path: "internal/foo/foo.go", Text: "func Foo() {}", Score: 0.9, Vector: []float32{1, 0}},
			{ChunkID: "b", Path: "internal/foo/foo.go", Text: "func Foo() { /* near dup */ }", Score: 0.85, Vector: []float32{1, 0.001}},
			{ChunkID: "c", Path: "internal/bar/bar.go", Text: "func Bar() {}", Score: 0.7, Vector: []float32{0, 1}},
		},
		MaxTokens: 10000,
	}

	out, err := Compile(in)
	require.NoError(t, err)

	ids := citationIDs(out.CoreSnippets)
	assert.Contains(t, ids, "a")
	assert.NotContains(t, ids, "b", "near-duplicate of a higher-scored snippet should be dropped")
	assert.Contains(t, ids, "c")
}

func TestCompileOrdersBySectionAffinityThenScore(t *testing.T) {
	in := Input{
		Snippets: []Snippet{
			{ChunkID: "low-in-best-section", Path: "internal/foo/a.go", Text: "a", Score: 0.3},
			{ChunkID: "solo-high", Path: "internal/bar/b.go", Text: "b", Score: 0.95},
			{ChunkID: "high-in-best-section", Path: "internal/foo/c.go", Text: "c", Score: 0.9},
		},
		MaxTokens: 10000,
	}

	out, err := Compile(in)
	require.NoError(t, err)
	require.Len(t, out.CoreSnippets, 3)

	// internal/foo's best member (0.9) beats internal/bar's solo member (0.95)?
	// No: section order is by each section's max score, so internal/bar (0.95) leads.
	assert.Equal(t, "solo-high", out.CoreSnippets[0].Citation.ID)
	assert.Equal(t, "high-in-best-section", out.CoreSnippets[1].Citation.ID)
	assert.Equal(t, "low-in-best-section", out.CoreSnippets[2].Citation.ID)
}

func TestCompileRespectsTokenBudgetSplit(t *testing.T) {
	longText := make([]byte, 4000)
	for i := range longText {
		longText[i] = 'a'
	}

	in := Input{
		Snippets: []Snippet{
			{ChunkID: "huge", Path: "internal/foo/a.go", Text: string(longText), Score: 1.0},
			{ChunkID: "small", Path: "internal/foo/b.go", Text: "tiny", Score: 0.5},
		},
		MaxTokens: 100,
	}

	out, err := Compile(in)
	require.NoError(t, err)

	totalSnippetTokens := 0
	for _, s := range out.CoreSnippets {
		totalSnippetTokens += len(s.Text) / 4
	}
	assert.LessOrEqual(t, totalSnippetTokens, 70, "snippet budget is 70%% of 100 tokens")
}

func TestCompileDropsSnippetsMissingChunkID(t *testing.T) {
	in := Input{
		Snippets: []Snippet{
			{ChunkID: "", Path: "internal/foo/a.go", Text: "orphaned", Score: 0.9},
			{ChunkID: "b", Path: "internal/foo/b.go", Text: "valid", Score: 0.5},
		},
		MaxTokens: 10000,
	}

	out, err := Compile(in)
	require.NoError(t, err)

	ids := citationIDs(out.CoreSnippets)
	assert.NotContains(t, ids, "")
	assert.Contains(t, ids, "b")
}

func TestCompileGlossaryAndRisksAreBudgetPacked(t *testing.T) {
	in := Input{
		Glossary: []GlossaryTerm{
			{Term: "HNSW", Definition: "hierarchical navigable small world graph", ChunkID: "g1"},
			{Term: "RRF", Definition: "reciprocal rank fusion", ChunkID: "g2"},
		},
		Risks:     []string{"embedding model mismatch between index build and query time"},
		MaxTokens: 10000,
	}

	out, err := Compile(in)
	require.NoError(t, err)
	assert.Len(t, out.Glossary, 2)
	assert.Len(t, out.Risks, 1)

	for _, g := range out.Glossary {
		assert.NotEmpty(t, g.Citation.ID)
	}
}

func TestCompileIsDeterministicAcrossRuns(t *testing.T) {
	in := Input{
		Snippets: []Snippet{
			{ChunkID: "a", Path: "internal/foo/a.go", Text: "func A() {}", Score: 0.9},
			{ChunkID: "b", Path: "internal/bar/b.go", Text: "func B() {}", Score: 0.8},
			{ChunkID: "c", Path: "internal/foo/c.go", Text: "func C() {}", Score: 0.6},
		},
		MaxTokens: 10000,
	}

	first, err := Compile(in)
	require.NoError(t, err)
	second, err := Compile(in)
	require.NoError(t, err)

	assert.Equal(t, citationIDs(first.CoreSnippets), citationIDs(second.CoreSnippets))
	assert.Equal(t, first.Outline, second.Outline)
}

func citationIDs(snippets []CoreSnippet) []string {
	ids := make([]string, len(snippets))
	for i, s := range snippets {
		ids[i] = s.Citation.ID
	}
	return ids
}
