// Package diff compares two packet versions chunk-by-chunk and reports a
// drift score: the mean cosine distance between vectors of chunks whose
// content changed. Chunks are paired by id and classified added/removed/
// changed by content hash, reusing content-addressed row identity; the
// cosine math is the same dot-product formula used elsewhere for vector
// similarity, generalized from a single index query to a pairwise
// packet-to-packet comparison.
package diff

import (
	"fmt"
	"math"
	"sort"

	"github.com/Aman-CERP/cpe/internal/packet"
)

// ChangeKind classifies how a chunk id's presence changed between two
// packet versions.
type ChangeKind string

const (
	Added   ChangeKind = "added"
	Removed ChangeKind = "removed"
	Changed ChangeKind = "changed"
)

// ChunkDiff is one chunk id's classification, with its cosine distance
// when the chunk is Changed (zero otherwise).
type ChunkDiff struct {
	ChunkID        string     `json:"chunk_id"`
	Section        string     `json:"section"`
	Kind           ChangeKind `json:"kind"`
	CosineDistance float64    `json:"cosine_distance,omitempty"`
}

// SectionDrift is the per-section breakdown of drift score.
type SectionDrift struct {
	Section    string  `json:"section"`
	DriftScore float64 `json:"drift_score"`
	Changed    int     `json:"changed"`
}

// Report is the full diff/drift result for a pair of packet versions.
type Report struct {
	Chunks         []ChunkDiff    `json:"chunks"`
	DriftScore     float64        `json:"drift_score"` // mean cosine distance over Changed pairs
	SectionDrift   []SectionDrift `json:"section_drift"`
}

// PacketVersion is the minimal view diff needs of one side of a comparison:
// the packet's chunks plus each chunk's vector, addressed by chunk id.
type PacketVersion struct {
	Chunks  []packet.Chunk
	Vectors map[string][]float32 // chunk id -> embedding
}

// Compare pairs a's and b's chunks by id, classifies each pairing, and
// computes the aggregate and per-section drift scores.
func Compare(a, b PacketVersion) (*Report, error) {
	aByID := make(map[string]packet.Chunk, len(a.Chunks))
	for _, c := range a.Chunks {
		aByID[c.ID] = c
	}
	bByID := make(map[string]packet.Chunk, len(b.Chunks))
	for _, c := range b.Chunks {
		bByID[c.ID] = c
	}

	var diffs []ChunkDiff
	sectionSums := map[string]float64{}
	sectionCounts := map[string]int{}
	var distanceSum float64
	var changedCount int

	ids := unionIDs(aByID, bByID)
	for _, id := range ids {
		aChunk, inA := aByID[id]
		bChunk, inB := bByID[id]

		switch {
		case inA && !inB:
			diffs = append(diffs, ChunkDiff{ChunkID: id, Section: sectionOf(aChunk), Kind: Removed})
		case !inA && inB:
			diffs = append(diffs, ChunkDiff{ChunkID: id, Section: sectionOf(bChunk), Kind: Added})
		case aChunk.ContentHash == bChunk.ContentHash:
			continue // unchanged chunk, not reported
		default:
			dist, err := cosineDistance(a.Vectors[id], b.Vectors[id])
			if err != nil {
				return nil, fmt.Errorf("diff: chunk %q: %w", id, err)
			}
			section := sectionOf(bChunk)
			diffs = append(diffs, ChunkDiff{ChunkID: id, Section: section, Kind: Changed, CosineDistance: dist})
			distanceSum += dist
			changedCount++
			sectionSums[section] += dist
			sectionCounts[section]++
		}
	}

	sort.Slice(diffs, func(i, j int) bool { return diffs[i].ChunkID < diffs[j].ChunkID })

	report := &Report{Chunks: diffs}
	if changedCount > 0 {
		report.DriftScore = distanceSum / float64(changedCount)
	}

	var sections []string
	for s := range sectionSums {
		sections = append(sections, s)
	}
	sort.Strings(sections)
	for _, s := range sections {
		report.SectionDrift = append(report.SectionDrift, SectionDrift{
			Section:    s,
			DriftScore: sectionSums[s] / float64(sectionCounts[s]),
			Changed:    sectionCounts[s],
		})
	}

	return report, nil
}

func unionIDs(a, b map[string]packet.Chunk) []string {
	seen := map[string]bool{}
	var ids []string
	for id := range a {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for id := range b {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func sectionOf(c packet.Chunk) string {
	if path, ok := c.Metadata["path"]; ok {
		return path
	}
	return ""
}

func cosineDistance(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, fmt.Errorf("missing vector for changed chunk")
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d vs %d", len(a), len(b))
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1, nil // maximal distance against a zero vector
	}
	cosine := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return 1 - cosine, nil
}
