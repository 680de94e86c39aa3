// Package sparse provides the build pipeline's optional keyword index,
// built on blevesearch/bleve/v2 as a build-once, load-once artifact:
// bleve's on-disk scorch segments are a directory, so Build/Open pack and
// unpack that directory into the packet's single bm25.bin artifact via
// tar+gzip.
package sparse

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
)

// Doc is one chunk as seen by the sparse index: id + raw chunk text, which
// bleve's default analyzer tokenizes at index time.
type Doc struct {
	ID      string
	Content string
}

// bleveDocument is the document shape stored in the bleve index.
type bleveDocument struct {
	Content string `json:"content"`
}

// Hit is a single BM25 search result.
type Hit struct {
	ID    string
	Score float64
}

// Build creates a fresh bleve index for docs in a scratch directory, then
// returns it packed as a tar.gz byte slice (the packet's bm25.bin).
func Build(ctx context.Context, docs []Doc) ([]byte, error) {
	dir, err := os.MkdirTemp("", "cpe-bm25-build-*")
	if err != nil {
		return nil, fmt.Errorf("sparse: creating scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	indexPath := filepath.Join(dir, "index")
	idx, err := bleve.New(indexPath, bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("sparse: creating index: %w", err)
	}

	batch := idx.NewBatch()
	for _, d := range docs {
		if err := batch.Index(d.ID, bleveDocument{Content: d.Content}); err != nil {
			idx.Close()
			return nil, fmt.Errorf("sparse: indexing %s: %w", d.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		idx.Close()
		return nil, fmt.Errorf("sparse: executing batch: %w", err)
	}
	if err := idx.Close(); err != nil {
		return nil, fmt.Errorf("sparse: closing index: %w", err)
	}

	return packDir(indexPath)
}

// Searcher is an opened BM25 index, unpacked from a packet's bm25.bin into a
// scratch directory for the life of the process.
type Searcher struct {
	idx     bleve.Index
	dir     string
	cleanup func()
}

// Open unpacks data (as produced by Build) into a scratch directory and
// opens it for search.
func Open(data []byte) (*Searcher, error) {
	dir, err := os.MkdirTemp("", "cpe-bm25-open-*")
	if err != nil {
		return nil, fmt.Errorf("sparse: creating scratch dir: %w", err)
	}

	indexPath := filepath.Join(dir, "index")
	if err := unpackDir(data, indexPath); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	idx, err := bleve.Open(indexPath)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("sparse: opening unpacked index: %w", err)
	}

	return &Searcher{idx: idx, dir: dir, cleanup: func() { os.RemoveAll(dir) }}, nil
}

// Search runs a BM25 match query over the content field, best score first.
func (s *Searcher) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	mq := bleve.NewMatchQuery(query)
	mq.SetField("content")

	req := bleve.NewSearchRequest(mq)
	req.Size = topK

	result, err := s.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sparse: search: %w", err)
	}

	hits := make([]Hit, len(result.Hits))
	for i, h := range result.Hits {
		hits[i] = Hit{ID: h.ID, Score: h.Score}
	}
	return hits, nil
}

// Close releases the bleve index and removes its scratch directory.
func (s *Searcher) Close() error {
	err := s.idx.Close()
	s.cleanup()
	return err
}

func packDir(root string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
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
		return nil, fmt.Errorf("sparse: packing index directory: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("sparse: closing tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("sparse: closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func unpackDir(data []byte, dest string) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("sparse: opening gzip reader: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("sparse: reading tar entry: %w", err)
		}
		target := filepath.Join(dest, hdr.Name)
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
