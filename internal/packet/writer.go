package packet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
	"github.com/natefinch/atomic"
)

// WriteInput bundles everything a build needs to persist a packet to disk.
type WriteInput struct {
	Dir      string
	Docs     []Chunk
	Vectors  [][]float32
	Manifest Manifest
	Lock     Lockfile
	BM25     []byte // optional serialized sparse index, nil if not built
	Faiss    []byte // optional serialized dense index, nil if FlatIP is recomputed at load
}

// Write persists a packet's artifacts atomically: each file is written to a
// temp path in its destination directory and renamed into place, so a reader
// never observes a partially written artifact. Checksums for every output
// are computed before the manifest is written, satisfying invariant (e)
// (lockfile outputs match on-disk hashes iff the build succeeded cleanly).
func Write(in WriteInput) error {
	if err := os.MkdirAll(in.Dir, 0o755); err != nil {
		return fmt.Errorf("packet: creating packet dir: %w", err)
	}

	checksums := make(map[string]Checksum, 4)

	docsPath := filepath.Join(in.Dir, FileDocs)
	docsBytes, err := marshalDocsJSONL(in.Docs)
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(docsPath, bytes.NewReader(docsBytes)); err != nil {
		return fmt.Errorf("packet: writing %s: %w", FileDocs, err)
	}
	checksums[FileDocs] = Checksum{Algo: "sha256", Value: sha256Hex(docsBytes)}

	vecPath := filepath.Join(in.Dir, FileVectors)
	var vecBuf bytes.Buffer
	if err := EncodeVectors(&vecBuf, in.Vectors); err != nil {
		return err
	}
	if err := atomic.WriteFile(vecPath, bytes.NewReader(vecBuf.Bytes())); err != nil {
		return fmt.Errorf("packet: writing %s: %w", FileVectors, err)
	}
	checksums[FileVectors] = Checksum{Algo: "sha256", Value: sha256Hex(vecBuf.Bytes())}

	if in.BM25 != nil {
		bm25Path := filepath.Join(in.Dir, FileBM25)
		if err := atomic.WriteFile(bm25Path, bytes.NewReader(in.BM25)); err != nil {
			return fmt.Errorf("packet: writing %s: %w", FileBM25, err)
		}
		checksums[FileBM25] = Checksum{Algo: "sha256", Value: sha256Hex(in.BM25)}
	}

	if in.Faiss != nil {
		faissPath := filepath.Join(in.Dir, FileFaissIndex)
		if err := os.MkdirAll(filepath.Dir(faissPath), 0o755); err != nil {
			return fmt.Errorf("packet: creating faiss dir: %w", err)
		}
		if err := atomic.WriteFile(faissPath, bytes.NewReader(in.Faiss)); err != nil {
			return fmt.Errorf("packet: writing %s: %w", FileFaissIndex, err)
		}
		checksums[FileFaissIndex] = Checksum{Algo: "sha256", Value: sha256Hex(in.Faiss)}
	}

	manifest := in.Manifest
	manifest.Checksums = checksums

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("packet: marshaling manifest: %w", err)
	}
	if err := atomic.WriteFile(filepath.Join(in.Dir, FileManifest), bytes.NewReader(manifestJSON)); err != nil {
		return fmt.Errorf("packet: writing %s: %w", FileManifest, err)
	}

	manifestYAML, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("packet: marshaling cpm.yml: %w", err)
	}
	if err := atomic.WriteFile(filepath.Join(in.Dir, FileManifestYAML), bytes.NewReader(manifestYAML)); err != nil {
		return fmt.Errorf("packet: writing %s: %w", FileManifestYAML, err)
	}

	lock := in.Lock
	lock.Outputs = checksumsToOutputs(checksums)
	lockJSON, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("packet: marshaling lockfile: %w", err)
	}
	if err := atomic.WriteFile(filepath.Join(in.Dir, FileLock), bytes.NewReader(lockJSON)); err != nil {
		return fmt.Errorf("packet: writing %s: %w", FileLock, err)
	}

	return nil
}

func checksumsToOutputs(checksums map[string]Checksum) map[string]string {
	out := make(map[string]string, len(checksums))
	for name, sum := range checksums {
		out[name] = sum.Value
	}
	return out
}

func marshalDocsJSONL(docs []Chunk) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		if err := enc.Encode(d); err != nil {
			return nil, fmt.Errorf("packet: marshaling doc %s: %w", d.ID, err)
		}
	}
	return buf.Bytes(), nil
}
