package embed

import (
	"context"
	"testing"

	"github.com/Aman-CERP/cpe/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmbedderStaticProviderNeedsNoEndpoint(t *testing.T) {
	t.Setenv(embedCacheEnvVar, "false")
	e, err := NewEmbedder(context.Background(), config.EmbeddingsConfig{Model: "static"})
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, Static768Dimensions, e.Dimensions())
}

func TestNewEmbedderCacheDisabledReturnsInnerDirectly(t *testing.T) {
	t.Setenv(embedCacheEnvVar, "false")
	e, err := NewEmbedder(context.Background(), config.EmbeddingsConfig{Model: "static"})
	require.NoError(t, err)
	defer e.Close()
	_, ok := e.(*CachedEmbedder)
	assert.False(t, ok, "cache should be disabled")
}

func TestNewEmbedderCacheEnabledByDefault(t *testing.T) {
	t.Setenv(embedCacheEnvVar, "")
	e, err := NewEmbedder(context.Background(), config.EmbeddingsConfig{Model: "static"})
	require.NoError(t, err)
	defer e.Close()
	_, ok := e.(*CachedEmbedder)
	assert.True(t, ok)
}
