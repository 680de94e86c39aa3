// Package build implements the packet build pipeline: the ten-step
// scan -> chunk -> cache-diff -> embed -> index -> write sequence that turns
// a source tree into a versioned context packet, reporting the total build
// duration and the per-file chunking errors, with incremental reuse of
// unchanged chunks.
package build

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/cpe/internal/async"
	"github.com/Aman-CERP/cpe/internal/cerr"
	"github.com/Aman-CERP/cpe/internal/chunk"
	"github.com/Aman-CERP/cpe/internal/config"
	"github.com/Aman-CERP/cpe/internal/embed"
	"github.com/Aman-CERP/cpe/internal/index/dense"
	"github.com/Aman-CERP/cpe/internal/index/sparse"
	"github.com/Aman-CERP/cpe/internal/metadata"
	"github.com/Aman-CERP/cpe/internal/packet"
	"github.com/Aman-CERP/cpe/internal/scanner"
)

// Input bundles everything a build needs: where to read from, where to
// write the packet, and which embedder/config to build it with.
type Input struct {
	SourceDir string
	DestDir   string
	PacketID  string
	Version   string
	Config    *config.Config
	Embedder  embed.Embedder
	// Archive, when set, additionally writes DestDir as a .tar.gz sibling.
	Archive bool
	// Progress, when set, is updated at each pipeline stage so a caller
	// (e.g. `cpectl build --json-progress` or a watch session) can report live
	// status. Nil is a valid no-op tracker.
	Progress *async.IndexProgress
}

// Result summarizes a completed build.
type Result struct {
	Manifest    *packet.Manifest
	Lock        *packet.Lockfile
	Duration    time.Duration
	ChunkErrors int
}

// Pipeline runs the build algorithm. It holds no state between runs.
type Pipeline struct{}

// NewPipeline constructs a Pipeline.
func NewPipeline() *Pipeline { return &Pipeline{} }

// Run executes the ten-step build: scan, chunk, diff against any prior
// packet at DestDir, embed what's new, build the dense (and optional
// sparse) indexes, and write every artifact atomically.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	cfg := in.Config
	if cfg == nil {
		cfg = config.Default()
	}

	locker := newBuildLock(in.DestDir)
	acquired, err := locker.TryLock()
	if err != nil {
		return nil, cerr.Wrap(cerr.KindIoError, err)
	}
	if !acquired {
		return nil, cerr.New(cerr.KindIoError, "another build already holds the packet lock at "+in.DestDir, nil)
	}
	defer locker.Unlock()

	progress := in.Progress

	// Step 1: scan source dir, compute per-file sha256 (lockfile input key).
	if progress != nil {
		progress.SetStage(async.StageScanning, 0)
	}
	files, inputHashes, err := scanAndHash(ctx, in.SourceDir, cfg)
	if err != nil {
		if progress != nil {
			progress.SetError(err.Error())
		}
		return nil, cerr.Wrap(cerr.KindIoError, err)
	}
	if progress != nil {
		progress.SetStage(async.StageChunking, len(files))
		progress.UpdateFiles(len(files))
	}

	// Step 2: chunk every file, accumulating (id, text, content_hash, metadata).
	chunks, chunkErrs := chunkFiles(ctx, files, cfg)
	if progress != nil {
		progress.SetChunksTotal(len(chunks))
	}
	for _, ce := range chunkErrs {
		slog.Warn("build_chunk_error", slog.String("file", ce.path), slog.String("error", ce.err.Error()))
	}

	docs := make([]packet.Chunk, len(chunks))
	for i, c := range chunks {
		docs[i] = packet.Chunk{
			ID:          c.ID,
			Text:        c.Content,
			ContentHash: c.ContentHash,
			Metadata:    c.Metadata,
		}
	}

	// Step 3: attempt cache load from the destination's prior build.
	cache, err := packet.LoadCache(in.DestDir, in.Embedder.ModelName(), in.Embedder.Dimensions())
	if err != nil {
		return nil, cerr.Wrap(cerr.KindCacheError, err)
	}

	// Step 4: partition into reused / to_embed; track removed for the manifest.
	var toEmbedIdx []int
	reusedCount := 0
	if cache != nil {
		for i, d := range docs {
			if _, ok := cache.VectorByHash[d.ContentHash]; !ok {
				toEmbedIdx = append(toEmbedIdx, i)
			} else {
				reusedCount++
			}
		}
	} else {
		for i := range docs {
			toEmbedIdx = append(toEmbedIdx, i)
		}
	}

	removedCount := 0
	if cache != nil {
		current := make(map[string]bool, len(docs))
		for _, d := range docs {
			current[d.ContentHash] = true
		}
		for hash := range cache.VectorByHash {
			if !current[hash] {
				removedCount++
			}
		}
	}

	// Step 5: embed to_embed texts. The embedder's own batching/retry
	// schedule handles the per-batch HTTP calls.
	if progress != nil {
		progress.SetStage(async.StageEmbedding, len(toEmbedIdx))
	}
	toEmbedTexts := make([]string, len(toEmbedIdx))
	for i, idx := range toEmbedIdx {
		toEmbedTexts[i] = docs[idx].Text
	}

	var embedded [][]float32
	if len(toEmbedTexts) > 0 {
		embedded, err = in.Embedder.EmbedBatch(ctx, toEmbedTexts)
		if err != nil {
			if progress != nil {
				progress.SetError(err.Error())
			}
			return nil, cerr.Wrap(cerr.KindEmbedderError, err)
		}
		if len(embedded) != len(toEmbedTexts) {
			err := fmt.Errorf("embedder returned %d vectors for %d texts", len(embedded), len(toEmbedTexts))
			if progress != nil {
				progress.SetError(err.Error())
			}
			return nil, cerr.New(cerr.KindEmbedderError, err.Error(), nil)
		}
	}
	if progress != nil {
		progress.UpdateChunks(len(toEmbedTexts))
	}

	// Step 6: assemble the full vector matrix in chunk order.
	dim := in.Embedder.Dimensions()
	vectors := make([][]float32, len(docs))
	embedPos := 0
	for i, d := range docs {
		if cache != nil {
			if v, ok := cache.VectorByHash[d.ContentHash]; ok {
				vectors[i] = v
				continue
			}
		}
		vectors[i] = embedded[embedPos]
		embedPos++
		if len(vectors[i]) != dim {
			return nil, cerr.New(cerr.KindEmbedderError,
				fmt.Sprintf("chunk %s embedded with dimension %d, expected %d", d.ID, len(vectors[i]), dim), nil)
		}
	}

	// Step 7: build the flat inner-product dense index (no training).
	if progress != nil {
		progress.SetStage(async.StageIndexing, len(vectors))
	}
	flat := dense.NewFlatIP(dim)
	if len(vectors) > 0 {
		if err := flat.Add(vectors); err != nil {
			return nil, cerr.Wrap(cerr.KindIndexError, err)
		}
	}
	faissBytes, err := flat.Marshal()
	if err != nil {
		return nil, cerr.Wrap(cerr.KindIndexError, err)
	}

	// Step 8: build the BM25 index alongside it, if the indexer is hybrid-rrf or sparse.
	var bm25Bytes []byte
	if cfg.Retrieval.Indexer == "hybrid-rrf" || cfg.Retrieval.Indexer == "sparse" {
		sparseDocs := make([]sparse.Doc, len(docs))
		for i, d := range docs {
			sparseDocs[i] = sparse.Doc{ID: d.ID, Content: d.Text}
		}
		bm25Bytes, err = sparse.Build(ctx, sparseDocs)
		if err != nil {
			return nil, cerr.Wrap(cerr.KindIndexError, err)
		}
	}

	// Step 9: write every artifact atomically.
	now := time.Now().UTC()
	manifest := packet.Manifest{
		SchemaVersion: packet.SchemaVersion,
		PacketID:      in.PacketID,
		Version:       in.Version,
		CreatedAt:     now,
		Embedding: packet.EmbeddingInfo{
			Model:      in.Embedder.ModelName(),
			Dim:        dim,
			Dtype:      "float16",
			Normalized: cfg.Embeddings.Normalize,
		},
		Counts: packet.Counts{Docs: len(docs), Vectors: len(vectors)},
		Incremental: packet.Incremental{
			Reused:   reusedCount,
			Embedded: len(toEmbedTexts),
			Removed:  removedCount,
		},
	}

	lock := packet.Lockfile{
		SchemaVersion: packet.SchemaVersion,
		Inputs:        inputHashes,
		Pipeline: packet.Pipeline{
			ChunkerConfig: packet.ChunkerConfig{
				ChunkTokens:   cfg.Chunking.ChunkTokens,
				OverlapTokens: cfg.Chunking.OverlapTokens,
				HardCapTokens: cfg.Chunking.HardCapTokens,
			},
			EmbedModel: in.Embedder.ModelName(),
			RetrievalCaps: packet.RetrievalCaps{
				Dense:  true,
				Sparse: bm25Bytes != nil,
			},
		},
		CreatedAt: now,
	}

	if err := packet.Write(packet.WriteInput{
		Dir:      in.DestDir,
		Docs:     docs,
		Vectors:  vectors,
		Manifest: manifest,
		Lock:     lock,
		BM25:     bm25Bytes,
		Faiss:    faissBytes,
	}); err != nil {
		return nil, cerr.Wrap(cerr.KindIoError, err)
	}

	if err := recordMetadata(ctx, in.DestDir, manifest, lock); err != nil {
		slog.Warn("metadata catalog record failed", slog.String("component", "build"), slog.String("error", err.Error()))
	}

	// Step 10: optional archive.
	if in.Archive {
		if err := archiveDir(in.DestDir, in.DestDir+".tar.gz"); err != nil {
			if progress != nil {
				progress.SetError(err.Error())
			}
			return nil, cerr.Wrap(cerr.KindIoError, err)
		}
	}

	if progress != nil {
		progress.SetReady()
	}

	return &Result{
		Manifest:    &manifest,
		Lock:        &lock,
		Duration:    time.Since(start),
		ChunkErrors: len(chunkErrs),
	}, nil
}

// recordMetadata appends this build's manifest and lockfile to the packet's
// SQLite catalog (destDir/metadata.db), so a caller can later answer "what
// versions of this packet have been built here" without re-reading every
// artifact directory. Failure to record is never fatal to the build.
func recordMetadata(ctx context.Context, destDir string, m packet.Manifest, lock packet.Lockfile) error {
	store, err := metadata.Open(filepath.Join(destDir, "metadata.db"))
	if err != nil {
		return err
	}
	defer store.Close()
	return store.RecordBuild(ctx, m, lock)
}

func scanAndHash(ctx context.Context, root string, cfg *config.Config) ([]*scanner.FileInfo, map[string]string, error) {
	s, err := scanner.New()
	if err != nil {
		return nil, nil, fmt.Errorf("build: creating scanner: %w", err)
	}

	results, err := s.Scan(ctx, &scanner.ScanOptions{
		RootDir:          root,
		IncludePatterns:  cfg.Paths.Include,
		ExcludePatterns:  cfg.Paths.Exclude,
		RespectGitignore: true,
		Workers:          runtime.NumCPU(),
		Submodules:       &cfg.Paths.Submodules,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build: scanning %s: %w", root, err)
	}

	var files []*scanner.FileInfo
	hashes := make(map[string]string)
	for r := range results {
		if r.Error != nil {
			slog.Warn("build_scan_error", slog.String("file", r.File.Path), slog.String("error", r.Error.Error()))
			continue
		}
		content, err := os.ReadFile(r.File.AbsPath)
		if err != nil {
			slog.Warn("build_scan_read_error", slog.String("file", r.File.Path), slog.String("error", err.Error()))
			continue
		}
		sum := sha256.Sum256(content)
		hashes[r.File.Path] = hex.EncodeToString(sum[:])
		files = append(files, r.File)
	}

	return files, hashes, nil
}

type chunkError struct {
	path string
	err  error
}

// chunkFiles routes every file through the chunk router, bounded to
// cfg.Performance.ChunkWorkers concurrent workers (default NumCPU) via a
// fixed worker pool for CPU-bound fan-out.
func chunkFiles(ctx context.Context, files []*scanner.FileInfo, cfg *config.Config) ([]*chunk.Chunk, []chunkError) {
	workers := cfg.Performance.ChunkWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	router := chunk.NewRouter(chunk.RouterOptions{
		ChunkTokens:   cfg.Chunking.ChunkTokens,
		OverlapTokens: cfg.Chunking.OverlapTokens,
	})
	defer router.Close()

	var (
		mu     sync.Mutex
		all    []*chunk.Chunk
		errs   []chunkError
		sem    = make(chan struct{}, workers)
		g, gtx = errgroup.WithContext(ctx)
	)

	for _, f := range files {
		f := f
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()

			content, err := os.ReadFile(f.AbsPath)
			if err != nil {
				mu.Lock()
				errs = append(errs, chunkError{path: f.Path, err: err})
				mu.Unlock()
				return nil
			}

			chunks, err := router.Route(gtx, &chunk.FileInput{Path: f.Path, Content: content, Language: f.Language})
			if err != nil {
				mu.Lock()
				errs = append(errs, chunkError{path: f.Path, err: err})
				mu.Unlock()
				return nil
			}

			mu.Lock()
			all = append(all, chunks...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // per-file errors are collected, never fatal to the overall scan

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, errs
}
