// Package rerank re-scores and reorders retrieval candidates before context
// compilation. Reranker is a small Rerank(ctx, query, results) interface so
// alternate strategies can be swapped in; NoopReranker is an identity pass,
// and TokenDiversityReranker implements Maximal Marginal Relevance.
package rerank

import (
	"context"
	"math"
	"sort"
)

// Candidate is one retrieval hit being reranked: enough to score relevance
// and penalize redundancy against already-selected candidates.
type Candidate struct {
	ChunkID string
	Text    string
	Score   float64   // retriever's relevance score (dense/BM25/RRF fused)
	Vector  []float32 // dense embedding, used for MMR similarity; nil for a sparse-only candidate
}

// Reranker re-scores and reorders candidates for a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, error)
}

// NoopReranker does not rescore: it returns a copy of the candidates
// sorted by Score descending.
type NoopReranker struct{}

// NewNoopReranker constructs a NoopReranker.
func NewNoopReranker() *NoopReranker { return &NoopReranker{} }

func (NoopReranker) Rerank(_ context.Context, _ string, candidates []Candidate) ([]Candidate, error) {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// TokenDiversityReranker implements Maximal Marginal Relevance: at each
// step it picks the remaining candidate maximizing
// lambda*relevance - (1-lambda)*max_similarity_to_selected, trading
// relevance for diversity among the compiled context's chunks.
type TokenDiversityReranker struct {
	lambda float64
}

// NewTokenDiversityReranker constructs an MMR reranker with the given
// lambda (0 = pure diversity, 1 = pure relevance). 0.5 is a balanced default.
func NewTokenDiversityReranker(lambda float64) *TokenDiversityReranker {
	return &TokenDiversityReranker{lambda: lambda}
}

func (r *TokenDiversityReranker) Rerank(_ context.Context, _ string, candidates []Candidate) ([]Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	remaining := make([]Candidate, len(candidates))
	copy(remaining, candidates)

	maxScore := remaining[0].Score
	for _, c := range remaining {
		if c.Score > maxScore {
			maxScore = c.Score
		}
	}
	normalizedScore := func(c Candidate) float64 {
		if maxScore == 0 {
			return 0
		}
		return c.Score / maxScore
	}

	selected := make([]Candidate, 0, len(remaining))
	for len(remaining) > 0 {
		bestIdx := 0
		bestMMR := float64(negInf)
		for i, cand := range remaining {
			maxSim := 0.0
			for _, s := range selected {
				if cand.Vector == nil || s.Vector == nil {
					continue
				}
				if sim := cosineSimilarity(cand.Vector, s.Vector); sim > maxSim {
					maxSim = sim
				}
			}
			mmr := r.lambda*normalizedScore(cand) - (1-r.lambda)*maxSim
			if mmr > bestMMR {
				bestMMR = mmr
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected, nil
}

const negInf = -1 << 62

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
