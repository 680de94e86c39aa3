package dense

import (
	"bytes"
	"fmt"

	"github.com/chewxy/math32"
	"github.com/coder/hnsw"
)

// HNSW is the optional accelerated dense backend, built on the coder/hnsw
// graph with cosine distance, satisfying the same Index interface FlatIP
// does so a packet build can pick either without touching the rest of
// the pipeline.
type HNSW struct {
	dim   int
	graph *hnsw.Graph[int]
	rows  [][]float32
}

// NewHNSW builds an empty HNSW index for vectors of the given dimension.
func NewHNSW(dim int) *HNSW {
	g := hnsw.NewGraph[int]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 20
	return &HNSW{dim: dim, graph: g}
}

func (h *HNSW) Add(vectors [][]float32) error {
	for _, v := range vectors {
		if len(v) != h.dim {
			return fmt.Errorf("dense: vector has dimension %d, index expects %d", len(v), h.dim)
		}
		key := len(h.rows)
		h.graph.Add(hnsw.MakeNode(key, v))
		h.rows = append(h.rows, v)
	}
	return nil
}

func (h *HNSW) Search(query []float32, topK int) ([]Result, error) {
	if len(query) != h.dim {
		return nil, fmt.Errorf("dense: query dimension %d does not match index dimension %d", len(query), h.dim)
	}
	neighbors := h.graph.Search(query, topK)
	results := make([]Result, len(neighbors))
	for i, n := range neighbors {
		results[i] = Result{Row: n.Key, Score: cosine(query, n.Value)}
	}
	return results, nil
}

// Marshal serializes the graph via coder/hnsw's own Export format.
func (h *HNSW) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := h.graph.Export(&buf); err != nil {
		return nil, fmt.Errorf("dense: exporting hnsw graph: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalHNSW rebuilds an HNSW index from bytes produced by Marshal.
func UnmarshalHNSW(data []byte, dim int) (*HNSW, error) {
	h := NewHNSW(dim)
	if err := h.graph.Import(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("dense: importing hnsw graph: %w", err)
	}
	return h, nil
}

func cosine(a, b []float32) float32 {
	var dotv, na, nb float32
	for i := range a {
		dotv += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dotv / (math32.Sqrt(na) * math32.Sqrt(nb))
}
