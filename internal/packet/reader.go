package packet

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// LocalPacket is a packet loaded from a directory on disk, with its manifest
// and lockfile parsed and its docs/vectors available for incremental reuse.
type LocalPacket struct {
	Path     string
	Manifest *Manifest
	Lock     *Lockfile
	Trust    *TrustReport
}

// TrustReport is the verification summary attached to a fetched packet; it
// has no meaning for a packet built locally (Trust stays nil in that case).
type TrustReport struct {
	Signature  SignalResult `json:"signature"`
	SBOM       SignalResult `json:"sbom"`
	Provenance SignalResult `json:"provenance"`
	Score      float64      `json:"score"`
	Reasons    []string     `json:"reasons,omitempty"`
}

// SignalResult is one of TrustReport's three checked signals.
type SignalResult struct {
	Present bool   `json:"present"`
	Valid   bool   `json:"valid"`
	Detail  string `json:"detail,omitempty"`
}

// Open reads manifest.json and cpm-lock.json (if present) from dir. It does
// not load docs/vectors; call LoadCache for that.
func Open(dir string) (*LocalPacket, error) {
	manifest, err := readManifest(filepath.Join(dir, FileManifest))
	if err != nil {
		return nil, err
	}

	lp := &LocalPacket{Path: dir, Manifest: manifest}

	lockPath := filepath.Join(dir, FileLock)
	if _, err := os.Stat(lockPath); err == nil {
		lock, err := readLock(lockPath)
		if err != nil {
			return nil, err
		}
		lp.Lock = lock
	}

	return lp, nil
}

func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("packet: reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("packet: parsing manifest: %w", err)
	}
	return &m, nil
}

func readLock(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("packet: reading lockfile: %w", err)
	}
	var l Lockfile
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("packet: parsing lockfile: %w", err)
	}
	return &l, nil
}

// ReadDocs loads every chunk record from docs.jsonl, in file order. Row i of
// ReadDocs corresponds to row i of ReadVectors, per invariant (b).
func ReadDocs(dir string) ([]Chunk, error) {
	f, err := os.Open(filepath.Join(dir, FileDocs))
	if err != nil {
		return nil, fmt.Errorf("packet: opening %s: %w", FileDocs, err)
	}
	defer f.Close()

	var docs []Chunk
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var c Chunk
		if err := json.Unmarshal(line, &c); err != nil {
			return nil, fmt.Errorf("packet: parsing %s line: %w", FileDocs, err)
		}
		docs = append(docs, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("packet: scanning %s: %w", FileDocs, err)
	}
	return docs, nil
}

// ReadVectors loads the full vector matrix, given the row count and
// dimension recorded in the manifest.
func ReadVectors(dir string, rows, dim int) ([][]float32, error) {
	f, err := os.Open(filepath.Join(dir, FileVectors))
	if err != nil {
		return nil, fmt.Errorf("packet: opening %s: %w", FileVectors, err)
	}
	defer f.Close()
	return DecodeVectors(f, rows, dim)
}

// LoadCacheResult is a previously built packet's reusable state, keyed by
// content_hash so a rebuild can skip re-embedding unchanged chunks.
type LoadCacheResult struct {
	VectorByHash map[string][]float32
	Manifest     *Manifest
}

// LoadCache attempts to load dir as a prior build's output for incremental
// reuse. It returns (nil, nil) — not an error — when dir has no manifest yet
// (first build) or when the embedding model/dimension differs from
// wantModel/wantDim (a config change invalidates the whole cache).
func LoadCache(dir, wantModel string, wantDim int) (*LoadCacheResult, error) {
	manifestPath := filepath.Join(dir, FileManifest)
	if _, err := os.Stat(manifestPath); err != nil {
		return nil, nil
	}

	manifest, err := readManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	if manifest.Embedding.Model != wantModel || manifest.Embedding.Dim != wantDim {
		return nil, nil
	}

	docs, err := ReadDocs(dir)
	if err != nil {
		return nil, err
	}
	vectors, err := ReadVectors(dir, manifest.Counts.Vectors, manifest.Embedding.Dim)
	if err != nil {
		return nil, err
	}
	if len(docs) != len(vectors) {
		return nil, fmt.Errorf("packet: cache in %s is inconsistent: %d docs vs %d vectors", dir, len(docs), len(vectors))
	}

	byHash := make(map[string][]float32, len(docs))
	for i, d := range docs {
		byHash[d.ContentHash] = vectors[i]
	}

	return &LoadCacheResult{VectorByHash: byHash, Manifest: manifest}, nil
}
