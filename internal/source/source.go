// Package source implements the pluggable resolution/fetch abstraction a
// packet reference can come from: a local directory, an OCI registry, or a
// hub's resolve API. The OCI source follows a crane-based pull/push idiom
// (go-containerregistry); it pulls the image on every Fetch and keeps no
// local cache of fetched layers.
package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/Aman-CERP/cpe/internal/packet"
)

// Source resolves a URI to a digest-addressed reference, fetches the
// referenced packet into a local directory, and can cheaply check whether a
// previously resolved reference has moved on.
type Source interface {
	// CanHandle reports whether this source understands uri's scheme.
	CanHandle(uri string) bool
	// Resolve turns uri into a PacketReference without downloading content.
	Resolve(ctx context.Context, uri string) (packet.PacketReference, error)
	// Fetch downloads the referenced packet's artifacts into destDir.
	Fetch(ctx context.Context, ref packet.PacketReference, destDir string) error
	// CheckUpdates reports whether the source now resolves to a different
	// digest than ref.Digest.
	CheckUpdates(ctx context.Context, ref packet.PacketReference) (bool, error)
}

// Registry dispatches a URI to the first registered Source that can handle
// it, in registration order.
type Registry struct {
	sources []Source
}

// NewRegistry builds a registry from the given sources, tried in order.
func NewRegistry(sources ...Source) *Registry {
	return &Registry{sources: sources}
}

// Resolve finds a source that can handle uri and resolves it.
func (r *Registry) Resolve(ctx context.Context, uri string) (packet.PacketReference, error) {
	s, err := r.pick(uri)
	if err != nil {
		return packet.PacketReference{}, err
	}
	return s.Resolve(ctx, uri)
}

// Fetch finds a source that can handle ref.URI and fetches it into destDir.
func (r *Registry) Fetch(ctx context.Context, ref packet.PacketReference, destDir string) error {
	s, err := r.pick(ref.URI)
	if err != nil {
		return err
	}
	return s.Fetch(ctx, ref, destDir)
}

// CheckUpdates finds a source that can handle ref.URI and checks for drift.
func (r *Registry) CheckUpdates(ctx context.Context, ref packet.PacketReference) (bool, error) {
	s, err := r.pick(ref.URI)
	if err != nil {
		return false, err
	}
	return s.CheckUpdates(ctx, ref)
}

func (r *Registry) pick(uri string) (Source, error) {
	for _, s := range r.sources {
		if s.CanHandle(uri) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("source: no registered source handles %q", uri)
}

// stripScheme removes a "scheme://" prefix if present.
func stripScheme(uri, scheme string) string {
	return strings.TrimPrefix(uri, scheme+"://")
}
