// Package cas is the content-addressed local cache a fetched packet lands
// in before being handed to a caller: digest-keyed storage with byte-quota
// eviction. Storage uses a digest-sharded directory layout with one packet
// directory per entry, entries staged in a temporary directory and renamed
// into place, atomically written metadata, and LRU-by-atime eviction once
// the byte quota is hit. Entries are addressed by digest only; there is no
// index from user-facing names to digests.
package cas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
)

// entryMeta is the bookkeeping cas keeps per digest, alongside the entry's
// own directory, to support atime-ordered eviction without stat'ing every
// file in every entry on each Put.
type entryMeta struct {
	Digest     string    `json:"digest"`
	SizeBytes  int64     `json:"size_bytes"`
	StoredAt   time.Time `json:"stored_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

// Cache is a digest-addressed store of fetched packet directories, bounded
// to MaxBytes total and evicted oldest-accessed-first. An entry currently
// reserved by an in-flight fetch is never evicted, matching the spec's
// requirement that concurrent fetches of the same digest never race an
// eviction out from under them.
type Cache struct {
	baseDir  string
	maxBytes int64

	mu       sync.Mutex
	reserved map[string]int // digest -> active reservation count
}

// NewCache opens (creating if necessary) a cache rooted at baseDir, capped
// at maxBytes total entry size. maxBytes <= 0 means unbounded.
func NewCache(baseDir string, maxBytes int64) (*Cache, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("cas: creating cache dir: %w", err)
	}
	return &Cache{baseDir: baseDir, maxBytes: maxBytes, reserved: map[string]int{}}, nil
}

// shardPath returns the on-disk directory for a digest, sharded by its
// first two hex characters after the "sha256:" prefix so a cache with many
// entries never puts thousands of siblings in one directory.
func (c *Cache) shardPath(digest string) (string, error) {
	rest := strings.TrimPrefix(digest, "sha256:")
	if len(rest) < 2 {
		return "", fmt.Errorf("cas: malformed digest %q", digest)
	}
	return filepath.Join(c.baseDir, rest[:2], rest), nil
}

func (c *Cache) metaPath(digest string) (string, error) {
	dir, err := c.shardPath(digest)
	if err != nil {
		return "", err
	}
	return dir + ".meta.json", nil
}

func (c *Cache) lockPath(digest string) (string, error) {
	dir, err := c.shardPath(digest)
	if err != nil {
		return "", err
	}
	return dir + ".lock", nil
}

// Reserve marks digest as actively being fetched, protecting it (and any
// already-stored entry under the same digest) from eviction until Release
// is called. Callers should Reserve before Fetch-ing into the cache and
// Release once the fetch (and its consumer) is done with the directory.
func (c *Cache) Reserve(digest string) func() {
	c.mu.Lock()
	c.reserved[digest]++
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.reserved[digest]--
			if c.reserved[digest] <= 0 {
				delete(c.reserved, digest)
			}
			c.mu.Unlock()
		})
	}
}

// Has reports whether digest is already cached, touching its access time if so.
func (c *Cache) Has(digest string) (bool, error) {
	dir, err := c.shardPath(digest)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	c.touch(digest)
	return true, nil
}

// Path returns the directory digest is (or would be) stored at.
func (c *Cache) Path(digest string) (string, error) {
	return c.shardPath(digest)
}

// Put stores digest's directory. Unless the entry already exists, it runs
// populateFn on a fresh staging directory beside the entry and renames that
// directory into place, so the entry never appears half-written. It holds
// the per-digest lock for the duration so a concurrent Put for the same
// digest from another process waits rather than racing, writes the entry's
// metadata, and enforces the byte quota afterward.
func (c *Cache) Put(digest string, sizeBytes int64, populateFn func(dir string) error) error {
	dir, err := c.shardPath(digest)
	if err != nil {
		return err
	}
	lockPath, err := c.lockPath(digest)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("cas: creating shard dir: %w", err)
	}

	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("cas: acquiring digest lock: %w", err)
	}
	defer fl.Unlock()

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		tmp, err := os.MkdirTemp(filepath.Dir(dir), ".staging-*")
		if err != nil {
			return fmt.Errorf("cas: creating staging dir: %w", err)
		}
		if err := populateFn(tmp); err != nil {
			_ = os.RemoveAll(tmp)
			return fmt.Errorf("cas: populating %s: %w", digest, err)
		}
		if err := os.Rename(tmp, dir); err != nil {
			_ = os.RemoveAll(tmp)
			return fmt.Errorf("cas: renaming %s into place: %w", digest, err)
		}
	} else if err != nil {
		return fmt.Errorf("cas: checking entry dir: %w", err)
	}

	now := time.Now()
	meta := entryMeta{Digest: digest, SizeBytes: sizeBytes, StoredAt: now, AccessedAt: now}
	if err := writeMeta(c, digest, meta); err != nil {
		return err
	}

	return c.enforceQuota()
}

func (c *Cache) touch(digest string) {
	metaPath, err := c.metaPath(digest)
	if err != nil {
		return
	}
	meta, err := readMeta(metaPath)
	if err != nil {
		return
	}
	meta.AccessedAt = time.Now()
	_ = writeMeta(c, digest, *meta)
}

func writeMeta(c *Cache, digest string, meta entryMeta) error {
	metaPath, err := c.metaPath(digest)
	if err != nil {
		return err
	}
	data, err := marshalMeta(meta)
	if err != nil {
		return err
	}
	return atomic.WriteFile(metaPath, bytes.NewReader(data))
}

// enforceQuota removes least-recently-accessed entries, skipping any
// digest currently reserved, until total size is within maxBytes.
func (c *Cache) enforceQuota() error {
	if c.maxBytes <= 0 {
		return nil
	}

	metas, total, err := c.allMetas()
	if err != nil {
		return err
	}
	if total <= c.maxBytes {
		return nil
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].AccessedAt.Before(metas[j].AccessedAt) })

	c.mu.Lock()
	reserved := make(map[string]bool, len(c.reserved))
	for d, n := range c.reserved {
		if n > 0 {
			reserved[d] = true
		}
	}
	c.mu.Unlock()

	for _, m := range metas {
		if total <= c.maxBytes {
			break
		}
		if reserved[m.Digest] {
			continue
		}
		if err := c.remove(m.Digest); err != nil {
			return err
		}
		total -= m.SizeBytes
	}
	return nil
}

func (c *Cache) remove(digest string) error {
	dir, err := c.shardPath(digest)
	if err != nil {
		return err
	}
	metaPath, err := c.metaPath(digest)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("cas: removing %s: %w", digest, err)
	}
	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cas: removing metadata for %s: %w", digest, err)
	}
	return nil
}

func marshalMeta(meta entryMeta) ([]byte, error) {
	return json.Marshal(meta)
}

func readMeta(path string) (*entryMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta entryMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (c *Cache) allMetas() ([]entryMeta, int64, error) {
	var metas []entryMeta
	var total int64

	err := filepath.Walk(c.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".meta.json") {
			return nil
		}
		m, err := readMeta(path)
		if err != nil {
			return nil // a missing/corrupt meta file is skipped, not fatal to the walk
		}
		metas = append(metas, *m)
		total += m.SizeBytes
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("cas: walking cache dir: %w", err)
	}
	return metas, total, nil
}
