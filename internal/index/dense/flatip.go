// Package dense provides the build pipeline's dense vector index: a
// brute-force flat inner-product scan by default, with an optional
// coder/hnsw-backed accelerated index behind the same interface.
package dense

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"
)

// Index is the interface both dense backends satisfy.
type Index interface {
	// Add appends rows to the index, in order; row i's score is reported
	// against query vectors by inner product.
	Add(vectors [][]float32) error
	// Search returns the topK row indices with the highest inner product
	// against query, best first.
	Search(query []float32, topK int) ([]Result, error)
	// Marshal serializes the index to bytes for faiss/index.faiss.
	Marshal() ([]byte, error)
}

// Result is one hit from Search.
type Result struct {
	Row   int
	Score float32
}

// FlatIP is a brute-force inner-product index: no training, O(n) search.
// This is the default backend for the build pipeline's dense step.
type FlatIP struct {
	dim     int
	vectors [][]float32
}

// NewFlatIP creates an empty flat index for vectors of the given dimension.
func NewFlatIP(dim int) *FlatIP {
	return &FlatIP{dim: dim}
}

func (f *FlatIP) Add(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != f.dim {
			return fmt.Errorf("dense: vector %d has dimension %d, index expects %d", i, len(v), f.dim)
		}
	}
	f.vectors = append(f.vectors, vectors...)
	return nil
}

func (f *FlatIP) Search(query []float32, topK int) ([]Result, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("dense: query dimension %d does not match index dimension %d", len(query), f.dim)
	}
	results := make([]Result, len(f.vectors))
	for i, v := range f.vectors {
		results[i] = Result{Row: i, Score: dot(query, v)}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

type flatIPSnapshot struct {
	Dim     int
	Vectors [][]float32
}

// Marshal serializes the index via gob; small enough for the packet's
// faiss/index.faiss artifact without needing libfaiss itself (no repo in
// the corpus binds CGo faiss, so the flat index is its own serialization).
func (f *FlatIP) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(flatIPSnapshot{Dim: f.dim, Vectors: f.vectors}); err != nil {
		return nil, fmt.Errorf("dense: marshaling flat index: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalFlatIP rebuilds a FlatIP from bytes produced by Marshal.
func UnmarshalFlatIP(data []byte) (*FlatIP, error) {
	var snap flatIPSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("dense: unmarshaling flat index: %w", err)
	}
	return &FlatIP{dim: snap.Dim, vectors: snap.Vectors}, nil
}
