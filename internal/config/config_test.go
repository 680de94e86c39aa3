package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsSelfConsistent(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 512, cfg.Chunking.ChunkTokens)
	assert.Greater(t, cfg.Chunking.HardCapTokens, cfg.Chunking.ChunkTokens)
	assert.Equal(t, 60, cfg.Retrieval.RRFConstant)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Chunking, cfg.Chunking)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "embeddings.yml")
	require.NoError(t, os.WriteFile(path, []byte("chunking:\n  chunk_tokens: 256\nretrieval:\n  indexer: dense\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Chunking.ChunkTokens)
	assert.Equal(t, "dense", cfg.Retrieval.Indexer)
	// Unset fields keep defaults.
	assert.Equal(t, 60, cfg.Retrieval.RRFConstant)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CPE_INDEXER", "sparse")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sparse", cfg.Retrieval.Indexer)
}

func TestDefaultPolicyIsWarnMode(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, PolicyModeWarn, p.Mode)
	assert.Equal(t, DefaultTrustWeights(), p.TrustWeights)
}

func TestLoadPolicyFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yml")
	require.NoError(t, os.WriteFile(path, []byte("mode: strict\nallowed_sources:\n  - \"oci://registry.example.com/**\"\nmin_trust_score: 0.75\nrequire:\n  signature: true\n"), 0o644))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, PolicyModeStrict, p.Mode)
	assert.Equal(t, 0.75, p.MinTrustScore)
	assert.True(t, p.Require.Signature)
	assert.Equal(t, DefaultTrustWeights(), p.TrustWeights, "unset trust weights fall back to defaults")
}
