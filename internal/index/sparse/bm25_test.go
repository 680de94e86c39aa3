package sparse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildOpenSearchRoundTrip(t *testing.T) {
	docs := []Doc{
		{ID: "1", Content: "the quick brown fox jumps over the lazy dog"},
		{ID: "2", Content: "golang concurrency patterns with goroutines and channels"},
		{ID: "3", Content: "vector embeddings for retrieval augmented generation"},
	}

	data, err := Build(context.Background(), docs)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	s, err := Open(data)
	require.NoError(t, err)
	defer s.Close()

	hits, err := s.Search(context.Background(), "goroutines channels", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "2", hits[0].ID)
}
