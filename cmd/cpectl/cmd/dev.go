package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cpe/internal/async"
	"github.com/Aman-CERP/cpe/internal/build"
	"github.com/Aman-CERP/cpe/internal/cerr"
	"github.com/Aman-CERP/cpe/internal/config"
	"github.com/Aman-CERP/cpe/internal/embed"
	"github.com/Aman-CERP/cpe/internal/watch"
	"github.com/Aman-CERP/cpe/internal/watcher"
)

func newDevCmd() *cobra.Command {
	var (
		destDir    string
		configPath string
		archive    bool
	)

	cmd := &cobra.Command{
		Use:   "dev [source-dir]",
		Short: "Watch a source tree and rebuild its packet on every change",
		Long: `Dev runs an initial build, then watches source-dir for file changes
and triggers an incremental rebuild after each debounced batch of
events. A change to the workspace's cpm.yaml reloads config before
the next rebuild.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceDir := "."
			if len(args) == 1 {
				sourceDir = args[0]
			}
			return runDev(cmd, sourceDir, destDir, configPath, archive)
		},
	}

	cmd.Flags().StringVar(&destDir, "dest", "", "Directory to write the packet to (default: <source-dir>/.cpe/packet)")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to cpm.yaml (default: <project-root>/cpm.yaml)")
	cmd.Flags().BoolVar(&archive, "archive", false, "Also write the packet as a .tar.gz sibling on every rebuild")

	return cmd
}

func runDev(cmd *cobra.Command, sourceDir, destDir, configPath string, archive bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sourceDir, err := filepath.Abs(sourceDir)
	if err != nil {
		return cerr.Wrap(cerr.KindIoError, err)
	}

	root, err := config.FindProjectRoot(sourceDir)
	if err != nil {
		root = sourceDir
	}

	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(root, "cpm.yaml")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cerr.Wrap(cerr.KindIoError, err)
	}

	if destDir == "" {
		destDir = filepath.Join(sourceDir, ".cpe", "packet")
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return cerr.Wrap(cerr.KindIoError, err)
	}
	packetID := filepath.Base(sourceDir)

	if async.HasIncompleteLock(destDir) {
		fmt.Fprintf(cmd.OutOrStdout(), "Warning: %s has an indexing lock left over from a prior run that didn't finish cleanly\n", destDir)
	}

	pipeline := build.NewPipeline()
	rebuild := func(ctx context.Context) (*build.Result, error) {
		embedder, err := embed.NewEmbedder(ctx, cfg.Embeddings)
		if err != nil {
			return nil, err
		}
		return pipeline.Run(ctx, build.Input{
			SourceDir: sourceDir,
			DestDir:   destDir,
			PacketID:  packetID,
			Version:   fmt.Sprintf("dev-%d", os.Getpid()),
			Config:    cfg,
			Embedder:  embedder,
			Archive:   archive,
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Running initial build of %s\n", sourceDir)
	indexer := async.NewBackgroundIndexer(async.IndexerConfig{DataDir: destDir})
	indexer.IndexFunc = func(ctx context.Context, _ *async.IndexProgress) error {
		_, err := rebuild(ctx)
		return err
	}
	indexer.Start(ctx)
	if err := indexer.Wait(); err != nil {
		return cerr.Wrap(cerr.KindChunkingError, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Watching for changes (ctrl-c to stop)...")

	session, err := watch.NewSession(watcher.DefaultOptions(), cfg, cfgPath, rebuild)
	if err != nil {
		return cerr.Wrap(cerr.KindInternal, err)
	}

	if err := session.Run(ctx, sourceDir); err != nil {
		return cerr.Wrap(cerr.KindInternal, err)
	}

	return nil
}
