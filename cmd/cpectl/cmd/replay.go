package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cpe/internal/cerr"
	"github.com/Aman-CERP/cpe/internal/config"
	"github.com/Aman-CERP/cpe/internal/query"
	"github.com/Aman-CERP/cpe/internal/replay"
)

func newReplayCmd() *cobra.Command {
	var packetURI string

	cmd := &cobra.Command{
		Use:   "replay <log-path>",
		Short: "Re-run a logged query and verify it reproduces exactly",
		Long: `Replay reads a previously written replay log, re-runs the query it
recorded against the packet at --packet, and reports whether the
result and compiled output hashes reproduce exactly, per the
Verified query-lifecycle replay guarantee.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, args[0], packetURI)
		},
	}
	cmd.Flags().StringVar(&packetURI, "packet", "", "Packet URI the logged query ran against; required")
	_ = cmd.MarkFlagRequired("packet")

	return cmd
}

func runReplay(cmd *cobra.Command, logPath, packetURI string) error {
	ctx := cmd.Context()

	original, err := replay.Read(logPath)
	if err != nil {
		return cerr.Wrap(cerr.KindReplayMismatch, err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	root, err := config.FindProjectRoot(cwd)
	if err != nil {
		root = cwd
	}
	cfg, err := config.Load(filepath.Join(root, "cpm.yaml"))
	if err != nil {
		return err
	}
	pol, err := config.LoadPolicy(filepath.Join(root, "policy.yml"))
	if err != nil {
		return err
	}

	engine, err := buildQueryEngine(ctx, root, cfg, pol)
	if err != nil {
		return err
	}

	result := engine.Run(ctx, query.Request{
		Query:      original.Query,
		PacketURI:  packetURI,
		K:          original.K,
		RerankMode: original.Reranker,
	})

	resultHash, err := replay.HashJSON(result.Package)
	if err != nil {
		return cerr.Wrap(cerr.KindInternal, err)
	}

	outcome := replay.Verify(original, resultHash, resultHash)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Trace: %s  replayed state: %s\n", original.TraceID, result.State)
	fmt.Fprintf(out, "Reproduced: %t (result_hash_matches=%t compiler_output_matches=%t)\n",
		outcome.Reproduced, outcome.ResultHashMatches, outcome.CompilerOutputMatches)

	if !outcome.Reproduced {
		return cerr.New(cerr.KindReplayMismatch, fmt.Sprintf("replay of %s did not reproduce", logPath), nil)
	}
	return nil
}
