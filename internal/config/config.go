// Package config loads the engine's workspace-level configuration: which
// paths to chunk, how to chunk and embed them, and how retrieval is tuned.
// Layered: built-in defaults → cpm.yaml → environment variables (highest
// priority).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration for a workspace.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Paths       PathsConfig       `yaml:"paths" json:"paths"`
	Chunking    ChunkingConfig    `yaml:"chunking" json:"chunking"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	Retrieval   RetrievalConfig   `yaml:"retrieval" json:"retrieval"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
}

// PathsConfig configures which paths to include and exclude when scanning a source tree.
type PathsConfig struct {
	Include    []string        `yaml:"include" json:"include"`
	Exclude    []string        `yaml:"exclude" json:"exclude"`
	Submodules SubmoduleConfig `yaml:"submodules" json:"submodules"`
}

// SubmoduleConfig configures git submodule discovery during a build scan.
type SubmoduleConfig struct {
	// Enabled enables submodule discovery (default: false, opt-in).
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Recursive enables discovery of nested submodules (default: true).
	Recursive bool `yaml:"recursive" json:"recursive"`
	// Include specifies submodules to include (empty = all).
	Include []string `yaml:"include" json:"include"`
	// Exclude specifies submodules to exclude.
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// ChunkingConfig controls how source files are split into chunks.
type ChunkingConfig struct {
	ChunkTokens          int  `yaml:"chunk_tokens" json:"chunk_tokens"`
	OverlapTokens        int  `yaml:"overlap_tokens" json:"overlap_tokens"`
	HardCapTokens        int  `yaml:"hard_cap_tokens" json:"hard_cap_tokens"`
	IncludeSourcePreamble bool `yaml:"include_source_preamble" json:"include_source_preamble"`
	Hierarchical         bool `yaml:"hierarchical" json:"hierarchical"`
	MicroChunkTokens     int  `yaml:"micro_chunk_tokens" json:"micro_chunk_tokens"`
	EmitParentChunks     bool `yaml:"emit_parent_chunks" json:"emit_parent_chunks"`
}

// EmbeddingsConfig configures the HTTP embedder client.
type EmbeddingsConfig struct {
	Endpoint   string        `yaml:"endpoint" json:"endpoint"`
	Model      string        `yaml:"model" json:"model"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	BatchSize  int           `yaml:"batch_size" json:"batch_size"`
	Normalize  bool          `yaml:"normalize" json:"normalize"`
	WarmTimeout time.Duration `yaml:"warm_timeout" json:"warm_timeout"`
	ColdTimeout time.Duration `yaml:"cold_timeout" json:"cold_timeout"`
}

// RetrievalConfig tunes the query pipeline.
type RetrievalConfig struct {
	Indexer     string  `yaml:"indexer" json:"indexer"`     // "dense" | "sparse" | "hybrid-rrf"
	Reranker    string  `yaml:"reranker" json:"reranker"`   // "noop" | "mmr"
	RRFConstant int     `yaml:"rrf_constant" json:"rrf_constant"`
	BM25K1      float64 `yaml:"bm25_k1" json:"bm25_k1"`
	BM25B       float64 `yaml:"bm25_b" json:"bm25_b"`
	MaxResults  int     `yaml:"max_results" json:"max_results"`
}

// PerformanceConfig configures concurrency knobs.
type PerformanceConfig struct {
	EmbedWorkers  int `yaml:"embed_workers" json:"embed_workers"`
	ChunkWorkers  int `yaml:"chunk_workers" json:"chunk_workers"`
}

var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include:    []string{},
			Exclude:    defaultExcludePatterns,
			Submodules: SubmoduleConfig{Recursive: true},
		},
		Chunking: ChunkingConfig{
			ChunkTokens:   512,
			OverlapTokens: 64,
			HardCapTokens: 1024,
			MicroChunkTokens: 128,
		},
		Embeddings: EmbeddingsConfig{
			Endpoint:    "http://localhost:8088",
			Model:       "default",
			Dimensions:  768,
			BatchSize:   32,
			Normalize:   true,
			WarmTimeout: 120 * time.Second,
			ColdTimeout: 180 * time.Second,
		},
		Retrieval: RetrievalConfig{
			Indexer:     "hybrid-rrf",
			Reranker:    "noop",
			RRFConstant: 60,
			BM25K1:      1.2,
			BM25B:       0.75,
			MaxResults:  20,
		},
		Performance: PerformanceConfig{
			EmbedWorkers: 8,
			ChunkWorkers: runtime.NumCPU(),
		},
	}
}

// Load reads YAML config from path, applying it over Default(), then applies
// environment variable overrides (highest priority).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return applyEnvOverrides(cfg), nil
			}
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	return applyEnvOverrides(cfg), nil
}

func applyEnvOverrides(cfg *Config) *Config {
	if v := os.Getenv("CPE_EMBEDDER_ENDPOINT"); v != "" {
		cfg.Embeddings.Endpoint = v
	}
	if v := os.Getenv("CPE_EMBEDDER_MODEL"); v != "" {
		cfg.Embeddings.Model = v
	}
	if v := os.Getenv("CPE_INDEXER"); v != "" {
		cfg.Retrieval.Indexer = v
	}
	if v := os.Getenv("CPE_RRF_CONSTANT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retrieval.RRFConstant = n
		}
	}
	if v := strings.ToLower(os.Getenv("CPE_EMBED_CACHE")); v == "false" || v == "0" || v == "off" {
		// handled by caller (embed.NewEmbedder wires this); kept here only as documentation
		// of the precedence rule so both packages agree on the env var name.
		_ = v
	}
	return cfg
}

// FindProjectRoot walks up from startDir looking for a .git directory or a
// cpm.yaml/cpm.yml config file, returning the first directory that has one.
// Falls back to the absolute form of startDir if neither is found by the
// filesystem root.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving project root: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, "cpm.yaml")) || fileExists(filepath.Join(currentDir, "cpm.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
