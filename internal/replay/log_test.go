package replay

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	log := Log{
		TraceID:            NewTraceID(),
		Query:              "auth",
		PacketDigest:       "sha256:abc",
		Model:              "static-768",
		Indexer:            "hybrid",
		Reranker:           "token-diversity",
		K:                  10,
		PolicyDecision:     "allow",
		ResultHash:         "deadbeef",
		CompilerOutputHash: "feedface",
		Timestamp:          1000,
		State:              "Emitted",
	}

	path, err := store.Write(log)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.dir, "query-1000.json"), path)

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, log.Query, got.Query)
	assert.Equal(t, log.ResultHash, got.ResultHash)
}

func TestHashJSONIsStableForEqualValues(t *testing.T) {
	a, err := HashJSON(map[string]any{"outline": []string{"a", "b"}})
	require.NoError(t, err)
	b, err := HashJSON(map[string]any{"outline": []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestVerifyReproducedWhenBothHashesMatch(t *testing.T) {
	log := &Log{ResultHash: "r1", CompilerOutputHash: "c1"}
	outcome := Verify(log, "r1", "c1")
	assert.True(t, outcome.Reproduced)
}

func TestVerifyNotReproducedWhenResultHashDiffers(t *testing.T) {
	log := &Log{ResultHash: "r1", CompilerOutputHash: "c1"}
	outcome := Verify(log, "r2", "c1")
	assert.False(t, outcome.Reproduced)
	assert.False(t, outcome.ResultHashMatches)
	assert.True(t, outcome.CompilerOutputMatches)
}

func TestNewTraceIDProducesDistinctValues(t *testing.T) {
	a := NewTraceID()
	b := NewTraceID()
	assert.NotEqual(t, a, b)
}
