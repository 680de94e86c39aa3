package dense

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatIPAddAndSearch(t *testing.T) {
	idx := NewFlatIP(3)
	require.NoError(t, idx.Add([][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0.9, 0.1, 0},
	}))

	results, err := idx.Search([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].Row)
	assert.Equal(t, 2, results[1].Row)
}

func TestFlatIPRejectsWrongDimension(t *testing.T) {
	idx := NewFlatIP(3)
	err := idx.Add([][]float32{{1, 2}})
	require.Error(t, err)
}

func TestFlatIPMarshalRoundTrip(t *testing.T) {
	idx := NewFlatIP(2)
	require.NoError(t, idx.Add([][]float32{{1, 2}, {3, 4}}))

	data, err := idx.Marshal()
	require.NoError(t, err)

	restored, err := UnmarshalFlatIP(data)
	require.NoError(t, err)
	results, err := restored.Search([]float32{1, 2}, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, results[0].Row)
}
