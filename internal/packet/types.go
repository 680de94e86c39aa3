// Package packet defines the context packet artifact: the manifest,
// lockfile, and on-disk document/vector layout a build produces and a
// fetch/query consumes. Persistence follows a content-addressed-rows,
// atomic-writes idiom, generalized from a local code index into a
// portable, digest-identified artifact.
package packet

import "time"

// Chunk is the packet-artifact form of a chunk: a minimal
// {id, text, content_hash, metadata} contract, independent of how
// internal/chunk produced it.
type Chunk struct {
	ID          string            `json:"id"`
	Text        string            `json:"text"`
	ContentHash string            `json:"content_hash"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// EmbeddingInfo records the embedding model and shape used to build a packet.
type EmbeddingInfo struct {
	Model         string `json:"model"`
	Dim           int    `json:"dim"`
	Dtype         string `json:"dtype"` // always "float16" on disk
	Normalized    bool   `json:"normalized"`
	MaxSeqLength  int    `json:"max_seq_length,omitempty"`
}

// Counts records artifact sizes, invariant (a): counts.vectors == counts.docs.
type Counts struct {
	Docs    int `json:"docs"`
	Vectors int `json:"vectors"`
}

// Incremental records how a build's chunk set compared to the prior packet's cache.
type Incremental struct {
	Reused   int `json:"reused"`
	Embedded int `json:"embedded"`
	Removed  int `json:"removed"`
}

// Checksum is one entry of Manifest.Checksums.
type Checksum struct {
	Algo  string `json:"algo"`
	Value string `json:"value"`
}

// SchemaVersion is the manifest/lockfile schema version written by this build.
const SchemaVersion = 1

// Manifest is the packet's immutable metadata, written once per build.
type Manifest struct {
	SchemaVersion int               `json:"schema_version"`
	PacketID      string            `json:"packet_id"`
	Version       string            `json:"version"`
	CreatedAt     time.Time         `json:"created_at"`
	Embedding     EmbeddingInfo     `json:"embedding"`
	Counts        Counts            `json:"counts"`
	Incremental   Incremental       `json:"incremental"`
	Checksums     map[string]Checksum `json:"checksums"`
}

// RetrievalCaps records which retrieval backends this packet's artifacts support.
type RetrievalCaps struct {
	Dense  bool `json:"dense" yaml:"dense"`
	Sparse bool `json:"sparse" yaml:"sparse"`
}

// ChunkerConfig is the pipeline-config slice of the lockfile, enough to
// detect a chunking-config drift between builds.
type ChunkerConfig struct {
	ChunkTokens   int `json:"chunk_tokens" yaml:"chunk_tokens"`
	OverlapTokens int `json:"overlap_tokens" yaml:"overlap_tokens"`
	HardCapTokens int `json:"hard_cap_tokens" yaml:"hard_cap_tokens"`
}

// Pipeline is the lockfile's pipeline descriptor.
type Pipeline struct {
	ChunkerConfig ChunkerConfig `json:"chunker_config" yaml:"chunker_config"`
	EmbedModel    string        `json:"embed_model" yaml:"embed_model"`
	RetrievalCaps RetrievalCaps `json:"retrieval_caps" yaml:"retrieval_caps"`
}

// SourceVerification records the trust signals checked when a packet came
// from a resolved remote source (empty for a locally built packet).
type SourceVerification struct {
	Signature  bool `json:"signature" yaml:"signature"`
	SBOM       bool `json:"sbom" yaml:"sbom"`
	Provenance bool `json:"provenance" yaml:"provenance"`
	TrustScore float64 `json:"trust_score" yaml:"trust_score"`
}

// SourceRef records where a packet's lockfile says it came from.
type SourceRef struct {
	URI          string             `json:"uri" yaml:"uri"`
	Digest       string             `json:"digest" yaml:"digest"`
	Verification SourceVerification `json:"verification" yaml:"verification"`
	ResolvedAt   time.Time          `json:"resolved_at" yaml:"resolved_at"`
}

// Lockfile binds a packet's inputs, pipeline, and outputs together. It is
// content-addressed and may be kept as a timestamped snapshot to support
// time-travel.
type Lockfile struct {
	SchemaVersion  int               `json:"schema_version" yaml:"schema_version"`
	Inputs         map[string]string `json:"inputs" yaml:"inputs"` // file path -> sha256
	Pipeline       Pipeline          `json:"pipeline" yaml:"pipeline"`
	Outputs        map[string]string `json:"outputs" yaml:"outputs"` // artifact filename -> sha256
	Source         *SourceRef        `json:"source,omitempty" yaml:"source,omitempty"`
	ParentSnapshot string            `json:"parent_snapshot,omitempty" yaml:"parent_snapshot,omitempty"`
	CreatedAt      time.Time         `json:"created_at" yaml:"created_at"`
}

// PacketReference is what a source resolves a URI to: a digest-addressed
// pointer plus whatever trust signals were available at resolve time,
// before fetch/verification actually runs.
type PacketReference struct {
	URI    string   `json:"uri"`
	Digest string   `json:"digest"`
	Refs   []string `json:"refs,omitempty"` // alternate tags/aliases for the same digest
	Trust  *TrustReport `json:"trust,omitempty"`
}

// Artifact file names within a packet directory.
const (
	FileDocs       = "docs.jsonl"
	FileVectors    = "vectors.f16.bin"
	FileFaissIndex = "faiss/index.faiss"
	FileBM25       = "bm25.bin"
	FileManifest   = "manifest.json"
	FileManifestYAML = "cpm.yml"
	FileLock       = "cpm-lock.json"
)
