package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/cpe/internal/packet"
)

// DirSource resolves "dir://" URIs (and bare local paths) to an existing
// packet directory on disk. Its digest is the SHA-256 of that directory's
// manifest.json, so a rebuild in place is detected as a new digest without
// needing to hash every artifact.
type DirSource struct{}

// NewDirSource constructs a DirSource.
func NewDirSource() *DirSource { return &DirSource{} }

func (s *DirSource) CanHandle(uri string) bool {
	if strings.HasPrefix(uri, "dir://") {
		return true
	}
	if strings.Contains(uri, "://") {
		return false
	}
	info, err := os.Stat(uri)
	return err == nil && info.IsDir()
}

func (s *DirSource) path(uri string) string {
	return stripScheme(uri, "dir")
}

func (s *DirSource) Resolve(ctx context.Context, uri string) (packet.PacketReference, error) {
	dir := s.path(uri)
	digest, err := manifestDigest(dir)
	if err != nil {
		return packet.PacketReference{}, fmt.Errorf("source: resolving dir %s: %w", dir, err)
	}
	return packet.PacketReference{URI: uri, Digest: digest}, nil
}

func (s *DirSource) Fetch(ctx context.Context, ref packet.PacketReference, destDir string) error {
	src := s.path(ref.URI)
	return copyDir(src, destDir)
}

func (s *DirSource) CheckUpdates(ctx context.Context, ref packet.PacketReference) (bool, error) {
	current, err := manifestDigest(s.path(ref.URI))
	if err != nil {
		return false, err
	}
	return current != ref.Digest, nil
}

func manifestDigest(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, packet.FileManifest))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, in)
		return err
	})
}
