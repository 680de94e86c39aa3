package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/cpe/internal/packet"
)

func chunk(id, hash, path string) packet.Chunk {
	return packet.Chunk{ID: id, ContentHash: hash, Metadata: map[string]string{"path": path}}
}

func TestCompareClassifiesAddedRemovedChanged(t *testing.T) {
	a := PacketVersion{
		Chunks: []packet.Chunk{
			chunk("stable", "h1", "internal/foo/a.go"),
			chunk("removed-in-b", "h2", "internal/foo/b.go"),
			chunk("changed", "h3", "internal/bar/c.go"),
		},
		Vectors: map[string][]float32{
			"changed": {1, 0},
		},
	}
	b := PacketVersion{
		Chunks: []packet.Chunk{
			chunk("stable", "h1", "internal/foo/a.go"),
			chunk("changed", "h3-new", "internal/bar/c.go"),
			chunk("added-in-b", "h4", "internal/baz/d.go"),
		},
		Vectors: map[string][]float32{
			"changed": {0.9, 0.1},
		},
	}

	report, err := Compare(a, b)
	require.NoError(t, err)

	kinds := map[string]ChangeKind{}
	for _, c := range report.Chunks {
		kinds[c.ChunkID] = c.Kind
	}
	assert.Equal(t, Removed, kinds["removed-in-b"])
	assert.Equal(t, Added, kinds["added-in-b"])
	assert.Equal(t, Changed, kinds["changed"])
	_, stableReported := kinds["stable"]
	assert.False(t, stableReported, "unchanged chunk should not appear in the diff")
}

func TestCompareDriftScoreIsMeanCosineDistanceOverChangedPairs(t *testing.T) {
	a := PacketVersion{
		Chunks: []packet.Chunk{
			chunk("x", "h1", "internal/foo/a.go"),
			chunk("y", "h2", "internal/foo/b.go"),
		},
		Vectors: map[string][]float32{
			"x": {1, 0},
			"y": {1, 0},
		},
	}
	b := PacketVersion{
		Chunks: []packet.Chunk{
			chunk("x", "h1-new", "internal/foo/a.go"),
			chunk("y", "h2-new", "internal/foo/b.go"),
		},
		Vectors: map[string][]float32{
			"x": {0, 1}, // orthogonal: cosine distance 1.0
			"y": {1, 0}, // identical: cosine distance 0.0
		},
	}

	report, err := Compare(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, report.DriftScore, 0.001)
}

func TestCompareSectionBreakdownGroupsBySectionPath(t *testing.T) {
	a := PacketVersion{
		Chunks:  []packet.Chunk{chunk("x", "h1", "internal/foo/a.go")},
		Vectors: map[string][]float32{"x": {1, 0}},
	}
	b := PacketVersion{
		Chunks:  []packet.Chunk{chunk("x", "h1-new", "internal/foo/a.go")},
		Vectors: map[string][]float32{"x": {0, 1}},
	}

	report, err := Compare(a, b)
	require.NoError(t, err)
	require.Len(t, report.SectionDrift, 1)
	assert.Equal(t, "internal/foo/a.go", report.SectionDrift[0].Section)
	assert.Equal(t, 1, report.SectionDrift[0].Changed)
}

func TestCompareErrorsOnMismatchedVectorDimensions(t *testing.T) {
	a := PacketVersion{
		Chunks:  []packet.Chunk{chunk("x", "h1", "internal/foo/a.go")},
		Vectors: map[string][]float32{"x": {1, 0}},
	}
	b := PacketVersion{
		Chunks:  []packet.Chunk{chunk("x", "h1-new", "internal/foo/a.go")},
		Vectors: map[string][]float32{"x": {1, 0, 0}},
	}

	_, err := Compare(a, b)
	assert.Error(t, err)
}

func TestCompareEmptyPacketsProduceEmptyReport(t *testing.T) {
	report, err := Compare(PacketVersion{}, PacketVersion{})
	require.NoError(t, err)
	assert.Empty(t, report.Chunks)
	assert.Zero(t, report.DriftScore)
}
