package build

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// buildLock is a cross-process advisory lock over a packet's destination
// directory, so two builds targeting the same packet never race each other's
// atomic writes. Uses gofrs/flock on a fixed `.build.lock` file inside the
// destination directory.
type buildLock struct {
	path string
	fl   *flock.Flock
}

func newBuildLock(dir string) *buildLock {
	path := filepath.Join(dir, ".build.lock")
	return &buildLock{path: path, fl: flock.New(path)}
}

// TryLock acquires the lock without blocking, returning false if another
// build already holds it.
func (l *buildLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("build: creating lock directory: %w", err)
	}
	return l.fl.TryLock()
}

func (l *buildLock) Unlock() error {
	return l.fl.Unlock()
}
