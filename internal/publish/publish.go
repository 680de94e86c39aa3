// Package publish pushes a built packet to an OCI registry and records the
// reference it was published under: crane.Push against a parsed
// name.Reference, composed with internal/source.PublishImage for packaging
// the packet directory as a single-layer artifact.
package publish

import (
	"fmt"

	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"

	"github.com/Aman-CERP/cpe/internal/packet"
	"github.com/Aman-CERP/cpe/internal/source"
)

// Result records what a publish actually produced.
type Result struct {
	Reference string
	Digest    string
}

// Push packages the packet at dir per manifest and pushes it to reference
// (e.g. "registry.example.com/team/docs:v3").
func Push(dir string, manifest packet.Manifest, reference string, opts ...crane.Option) (*Result, error) {
	ref, err := name.ParseReference(reference)
	if err != nil {
		return nil, fmt.Errorf("publish: parsing reference %s: %w", reference, err)
	}

	img, err := source.PublishImage(dir, manifest)
	if err != nil {
		return nil, fmt.Errorf("publish: packaging %s: %w", dir, err)
	}

	if err := crane.Push(img, ref.String(), opts...); err != nil {
		return nil, fmt.Errorf("publish: pushing to %s: %w", ref.String(), err)
	}

	digest, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("publish: computing digest: %w", err)
	}

	return &Result{Reference: ref.String(), Digest: digest.String()}, nil
}
