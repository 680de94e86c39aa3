package embed

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Aman-CERP/cpe/internal/config"
)

// ProviderType selects which Embedder backend NewEmbedder constructs.
type ProviderType string

const (
	// ProviderHTTP calls a remote embedding service over POST /embed.
	ProviderHTTP ProviderType = "http"

	// ProviderStatic uses a deterministic hash-based embedder: no network, no
	// model, reduced semantic quality. Used for offline dev and test fixtures.
	ProviderStatic ProviderType = "static"
)

// CPE_EMBED_CACHE=false disables the LRU wrapper.
const embedCacheEnvVar = "CPE_EMBED_CACHE"

// NewEmbedder builds the embedder configured for a workspace: an HTTPEmbedder
// pointed at cfg.Endpoint by default, or the deterministic StaticEmbedder768
// when cfg.Model is "static" (no endpoint reachability required). The result
// is wrapped in an LRU query cache unless CPE_EMBED_CACHE=false.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	var (
		embedder Embedder
		err      error
	)

	switch ProviderType(strings.ToLower(cfg.Model)) {
	case ProviderStatic:
		embedder = NewStaticEmbedder768()
	default:
		embedder, err = NewHTTPEmbedder(ctx, HTTPConfig{
			Endpoint:    cfg.Endpoint,
			Model:       cfg.Model,
			Dimensions:  cfg.Dimensions,
			BatchSize:   cfg.BatchSize,
			Normalize:   cfg.Normalize,
			WarmTimeout: cfg.WarmTimeout,
			ColdTimeout: cfg.ColdTimeout,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("embed: constructing embedder: %w", err)
	}

	if !isCacheDisabled() {
		embedder = NewCachedEmbedderWithDefaults(embedder)
	}
	return embedder, nil
}

func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv(embedCacheEnvVar))
	return v == "false" || v == "0" || v == "off"
}
