package source

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/static"
	"github.com/google/go-containerregistry/pkg/v1/types"

	"github.com/Aman-CERP/cpe/internal/packet"
)

// cpeArtifactAnnotation marks an OCI image as a context packet built by this
// engine, distinguishing its own artifacts from arbitrary OCI images.
const cpeArtifactAnnotation = "io.cpe.packet.schema_version"

// OciSource resolves "oci://" URIs, i.e. registry references, using
// go-containerregistry's crane client. A packet is published as a single
// OCI-uncompressed layer holding the packet directory's tar.gz
// (static.NewLayer + AppendLayers + MediaType + Annotations).
type OciSource struct {
	craneOpts []crane.Option
}

// NewOciSource constructs an OciSource. Extra crane.Options (auth, platform,
// insecure registries) can be supplied by the caller.
func NewOciSource(opts ...crane.Option) *OciSource {
	return &OciSource{craneOpts: opts}
}

func (s *OciSource) CanHandle(uri string) bool {
	if strings.HasPrefix(uri, "oci://") {
		return true
	}
	// Bare "registry/repo:tag" references are also accepted, since that's
	// how `cpectl fetch` and `cpectl publish` are expected to be invoked.
	if strings.Contains(uri, "://") {
		return false
	}
	_, err := name.ParseReference(uri)
	return err == nil && strings.Contains(uri, "/")
}

func (s *OciSource) ref(uri string) string {
	return stripScheme(uri, "oci")
}

func (s *OciSource) Resolve(ctx context.Context, uri string) (packet.PacketReference, error) {
	ref := s.ref(uri)
	parsed, err := name.ParseReference(ref)
	if err != nil {
		return packet.PacketReference{}, fmt.Errorf("source: parsing oci reference %s: %w", ref, err)
	}

	opts := append(append([]crane.Option{}, s.craneOpts...), crane.WithContext(ctx))
	digest, err := crane.Digest(parsed.String(), opts...)
	if err != nil {
		return packet.PacketReference{}, fmt.Errorf("source: resolving digest for %s: %w", ref, err)
	}

	return packet.PacketReference{URI: uri, Digest: digest, Refs: []string{parsed.String()}}, nil
}

func (s *OciSource) Fetch(ctx context.Context, ref packet.PacketReference, destDir string) error {
	target := ref.URI
	if len(ref.Refs) > 0 {
		target = ref.Refs[0]
	} else {
		target = s.ref(ref.URI)
	}

	opts := append(append([]crane.Option{}, s.craneOpts...), crane.WithContext(ctx))
	img, err := crane.Pull(target, opts...)
	if err != nil {
		return fmt.Errorf("source: pulling %s: %w", target, err)
	}

	manifest, err := img.Manifest()
	if err != nil {
		return fmt.Errorf("source: reading manifest for %s: %w", target, err)
	}
	if _, ok := manifest.Annotations[cpeArtifactAnnotation]; !ok {
		return fmt.Errorf("source: %s was not published by this engine (missing %s annotation)", target, cpeArtifactAnnotation)
	}

	layers, err := img.Layers()
	if err != nil {
		return fmt.Errorf("source: reading layers for %s: %w", target, err)
	}
	if len(layers) != 1 {
		return fmt.Errorf("source: expected exactly one layer for a packet artifact, got %d", len(layers))
	}

	rc, err := layers[0].Uncompressed()
	if err != nil {
		return fmt.Errorf("source: reading layer content: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("source: reading layer bytes: %w", err)
	}

	return untarGz(data, destDir)
}

func (s *OciSource) CheckUpdates(ctx context.Context, ref packet.PacketReference) (bool, error) {
	current, err := s.Resolve(ctx, ref.URI)
	if err != nil {
		return false, err
	}
	return current.Digest != ref.Digest, nil
}

// PublishImage packages dir's packet artifacts into a single-layer OCI
// image, annotated with the packet's manifest fields, ready for
// crane.Push/crane.Save. The caller supplies the manifest so the annotations
// can be set without re-reading it from disk.
func PublishImage(dir string, manifest packet.Manifest) (v1.Image, error) {
	data, err := tarGzDir(dir)
	if err != nil {
		return nil, fmt.Errorf("source: packing %s: %w", dir, err)
	}

	layer := static.NewLayer(data, types.OCIUncompressedLayer)
	img, err := mutate.AppendLayers(empty.Image, layer)
	if err != nil {
		return nil, fmt.Errorf("source: appending packet layer: %w", err)
	}

	img = mutate.MediaType(img, types.OCIManifestSchema1)
	annotated, ok := mutate.Annotations(img, map[string]string{
		cpeArtifactAnnotation:           fmt.Sprintf("%d", manifest.SchemaVersion),
		"io.cpe.packet.id":              manifest.PacketID,
		"io.cpe.packet.version":         manifest.Version,
		"io.cpe.packet.embedding_model": manifest.Embedding.Model,
	}).(v1.Image)
	if !ok {
		return nil, fmt.Errorf("source: annotating image: unexpected mutate result type")
	}

	return annotated, nil
}

func tarGzDir(dir string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func untarGz(data []byte, destDir string) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("source: opening gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("source: reading tar entry: %w", err)
		}
		target := filepath.Join(destDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
}
