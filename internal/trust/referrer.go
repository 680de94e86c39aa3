package trust

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// ReferrerKind names one of the three referrer artifacts a publisher may
// attach to a packet.
type ReferrerKind string

const (
	ReferrerSignature  ReferrerKind = "sig"
	ReferrerSBOM       ReferrerKind = "sbom"
	ReferrerProvenance ReferrerKind = "prov"
)

// ReferrerStore fetches a packet's optional referrer artifacts by digest.
// Two implementations exist: one using the OCI 1.1 referrers API
// (remote.Referrers) and one falling back to the `sha256-<digest>.sig`
// / `.sbom` / `.prov` tag convention. Behind an interface so tests can
// exercise the fallback path without a referrers-capable fake registry.
type ReferrerStore interface {
	// Fetch returns the raw bytes of kind's referrer artifact for
	// manifestDigest under repo, or (nil, false, nil) if absent.
	Fetch(ctx context.Context, repo string, manifestDigest string, kind ReferrerKind) ([]byte, bool, error)
}

// referrersAPIStore uses the OCI 1.1 referrers API.
type referrersAPIStore struct {
	opts []remote.Option
}

// NewReferrersAPIStore returns a ReferrerStore backed by the registry's
// native referrers API.
func NewReferrersAPIStore(opts ...remote.Option) ReferrerStore {
	return &referrersAPIStore{opts: opts}
}

func (s *referrersAPIStore) Fetch(ctx context.Context, repo, manifestDigest string, kind ReferrerKind) ([]byte, bool, error) {
	digestRef, err := name.NewDigest(repo + "@" + manifestDigest)
	if err != nil {
		return nil, false, fmt.Errorf("trust: parsing digest reference for %s: %w", repo, err)
	}

	idx, err := remote.Referrers(digestRef, append(s.opts, remote.WithContext(ctx))...)
	if err != nil {
		return nil, false, fmt.Errorf("trust: listing referrers for %s: %w", manifestDigest, err)
	}
	manifest, err := idx.IndexManifest()
	if err != nil {
		return nil, false, fmt.Errorf("trust: reading referrers index: %w", err)
	}

	wantType := artifactTypeFor(kind)
	for _, desc := range manifest.Manifests {
		if desc.ArtifactType != wantType {
			continue
		}
		referrerRef, err := name.NewDigest(repo + "@" + desc.Digest.String())
		if err != nil {
			return nil, false, fmt.Errorf("trust: parsing referrer digest: %w", err)
		}
		img, err := remote.Image(referrerRef, append(s.opts, remote.WithContext(ctx))...)
		if err != nil {
			return nil, false, fmt.Errorf("trust: fetching referrer %s: %w", desc.Digest, err)
		}
		data, err := firstLayerBytes(img)
		if err != nil {
			return nil, false, err
		}
		return data, true, nil
	}
	return nil, false, nil
}

// tagFallbackStore implements the "sha256-<digest>.<kind>" tag convention
// as the fallback for registries without referrers support.
type tagFallbackStore struct {
	opts []remote.Option
}

// NewTagFallbackStore returns a ReferrerStore backed by the tag-suffix
// convention.
func NewTagFallbackStore(opts ...remote.Option) ReferrerStore {
	return &tagFallbackStore{opts: opts}
}

func (s *tagFallbackStore) Fetch(ctx context.Context, repo, manifestDigest string, kind ReferrerKind) ([]byte, bool, error) {
	tag := fmt.Sprintf("%s:sha256-%s.%s", repo, strings.TrimPrefix(manifestDigest, "sha256:"), kind)
	tagRef, err := name.NewTag(tag)
	if err != nil {
		return nil, false, fmt.Errorf("trust: parsing fallback tag %s: %w", tag, err)
	}

	img, err := remote.Image(tagRef, append(s.opts, remote.WithContext(ctx))...)
	if err != nil {
		return nil, false, nil // absent referrer tag is not an error
	}
	data, err := firstLayerBytes(img)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func artifactTypeFor(kind ReferrerKind) string {
	switch kind {
	case ReferrerSignature:
		return "application/vnd.cpe.signature.v1+json"
	case ReferrerSBOM:
		return "application/vnd.cpe.sbom.v1+json"
	case ReferrerProvenance:
		return "application/vnd.cpe.provenance.v1+json"
	default:
		return ""
	}
}

func firstLayerBytes(img v1.Image) ([]byte, error) {
	layers, err := img.Layers()
	if err != nil {
		return nil, fmt.Errorf("trust: reading referrer layers: %w", err)
	}
	if len(layers) == 0 {
		return nil, fmt.Errorf("trust: referrer image has no layers")
	}
	rc, err := layers[0].Uncompressed()
	if err != nil {
		return nil, fmt.Errorf("trust: reading referrer layer: %w", err)
	}
	defer rc.Close()

	return io.ReadAll(rc)
}
