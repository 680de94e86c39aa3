package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cpe/internal/async"
	"github.com/Aman-CERP/cpe/internal/build"
	"github.com/Aman-CERP/cpe/internal/cerr"
	"github.com/Aman-CERP/cpe/internal/config"
	"github.com/Aman-CERP/cpe/internal/embed"
	"github.com/Aman-CERP/cpe/internal/output"
	"github.com/Aman-CERP/cpe/internal/ui"
)

func newBuildCmd() *cobra.Command {
	var (
		destDir      string
		packetID     string
		pkgVersion   string
		configPath   string
		archive      bool
		noTUI        bool
		jsonProgress bool
	)

	cmd := &cobra.Command{
		Use:   "build [source-dir]",
		Short: "Build a context packet from a source tree",
		Long: `Build scans a source tree, chunks its code, embeds the chunks, and
writes a versioned, content-addressed context packet (docs.jsonl,
vectors.f16.bin, faiss/index.faiss, bm25.bin plus a manifest and
lockfile) to --dest.

Rerunning build against the same --dest reuses unchanged chunks by
content hash, only re-embedding what changed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceDir := "."
			if len(args) == 1 {
				sourceDir = args[0]
			}
			return runBuild(cmd, buildOptions{
				sourceDir:    sourceDir,
				destDir:      destDir,
				packetID:     packetID,
				pkgVersion:   pkgVersion,
				configPath:   configPath,
				archive:      archive,
				noTUI:        noTUI,
				jsonProgress: jsonProgress,
			})
		},
	}

	cmd.Flags().StringVar(&destDir, "dest", "", "Directory to write the packet to (default: <source-dir>/.cpe/packet)")
	cmd.Flags().StringVar(&packetID, "packet-id", "", "Packet identifier (default: source directory base name)")
	cmd.Flags().StringVar(&pkgVersion, "version", "", "Packet version label (default: RFC3339 build timestamp)")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to cpm.yaml (default: <project-root>/cpm.yaml)")
	cmd.Flags().BoolVar(&archive, "archive", false, "Also write the packet as a .tar.gz sibling")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable the progress renderer, emitting plain log lines only")
	cmd.Flags().BoolVar(&jsonProgress, "json-progress", false, "Emit a JSON progress snapshot line to stderr every 500ms instead of the interactive renderer")

	return cmd
}

type buildOptions struct {
	sourceDir    string
	destDir      string
	packetID     string
	pkgVersion   string
	configPath   string
	archive      bool
	noTUI        bool
	jsonProgress bool
}

func runBuild(cmd *cobra.Command, opts buildOptions) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout())

	sourceDir, err := filepath.Abs(opts.sourceDir)
	if err != nil {
		return cerr.Wrap(cerr.KindIoError, err)
	}

	root, err := config.FindProjectRoot(sourceDir)
	if err != nil {
		root = sourceDir
	}

	cfgPath := opts.configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(root, "cpm.yaml")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cerr.Wrap(cerr.KindIoError, err)
	}

	destDir := opts.destDir
	if destDir == "" {
		destDir = filepath.Join(sourceDir, ".cpe", "packet")
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return cerr.Wrap(cerr.KindIoError, err)
	}

	packetID := opts.packetID
	if packetID == "" {
		packetID = filepath.Base(sourceDir)
	}
	pkgVersion := opts.pkgVersion
	if pkgVersion == "" {
		pkgVersion = time.Now().UTC().Format(time.RFC3339)
	}

	embedder, err := embed.NewEmbedder(ctx, cfg.Embeddings)
	if err != nil {
		return cerr.Wrap(cerr.KindEmbedderError, err)
	}

	var progress *async.IndexProgress
	var renderer ui.Renderer
	var stopProgress context.CancelFunc

	if opts.jsonProgress {
		progress = async.NewIndexProgress()
		var progressCtx context.Context
		progressCtx, stopProgress = context.WithCancel(ctx)
		go streamJSONProgress(progressCtx, progress)
	} else {
		renderer = ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
			ui.WithForcePlain(opts.noTUI || !ui.IsTTY(cmd.OutOrStdout())),
			ui.WithNoColor(ui.DetectNoColor() || ui.DetectCI()),
			ui.WithProjectDir(sourceDir),
		))
		if err := renderer.Start(ctx); err != nil {
			return cerr.Wrap(cerr.KindInternal, err)
		}
		defer renderer.Stop()
	}

	pipeline := build.NewPipeline()
	result, err := pipeline.Run(ctx, build.Input{
		SourceDir: sourceDir,
		DestDir:   destDir,
		PacketID:  packetID,
		Version:   pkgVersion,
		Config:    cfg,
		Embedder:  embedder,
		Archive:   opts.archive,
		Progress:  progress,
	})
	if stopProgress != nil {
		stopProgress()
	}
	if err != nil {
		return err
	}

	if renderer != nil {
		renderer.Complete(ui.CompletionStats{
			Chunks:   result.Manifest.Counts.Docs,
			Duration: result.Duration,
			Errors:   result.ChunkErrors,
		})
	}

	out.Successf("Packet %s@%s built in %s", packetID, pkgVersion, result.Duration.Round(time.Millisecond))
	out.Statusf("", "Destination: %s", destDir)
	if result.ChunkErrors > 0 {
		out.Warningf("%d files failed to chunk; see log for details", result.ChunkErrors)
	}
	fmt.Fprintln(cmd.OutOrStdout())

	return nil
}

// streamJSONProgress polls progress every 500ms and writes one JSON snapshot
// line to stderr per tick, for callers that want machine-readable build
// status instead of the interactive renderer (e.g. an IDE extension or a
// `dev --watch` supervisor process).
func streamJSONProgress(ctx context.Context, progress *async.IndexProgress) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	enc := json.NewEncoder(os.Stderr)
	for {
		select {
		case <-ctx.Done():
			_ = enc.Encode(progress.Snapshot())
			return
		case <-ticker.C:
			_ = enc.Encode(progress.Snapshot())
		}
	}
}
