package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cpe/internal/cas"
	"github.com/Aman-CERP/cpe/internal/cerr"
	"github.com/Aman-CERP/cpe/internal/config"
	"github.com/Aman-CERP/cpe/internal/embed"
	"github.com/Aman-CERP/cpe/internal/policy"
	"github.com/Aman-CERP/cpe/internal/query"
	"github.com/Aman-CERP/cpe/internal/rerank"
	"github.com/Aman-CERP/cpe/internal/replay"
	"github.com/Aman-CERP/cpe/internal/source"
	"github.com/Aman-CERP/cpe/internal/timetravel"
	"github.com/Aman-CERP/cpe/internal/trust"
)

func newQueryCmd() *cobra.Command {
	var (
		packetURI  string
		k          int
		maxTokens  int
		asOf       int64
		rerankMode string
		jsonOut    bool
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Retrieve and compile a context package for a natural-language query",
		Long: `Query drives a packet through the full retrieval lifecycle: resolve the
source, fetch into the local cache, verify its trust report, evaluate
policy, run hybrid (dense + sparse, RRF-fused) retrieval, rerank, and
compile a budgeted context package. Every run writes a replay log,
whether it succeeds or fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, queryOptions{
				query:      args[0],
				packetURI:  packetURI,
				k:          k,
				maxTokens:  maxTokens,
				asOf:       asOf,
				rerankMode: rerankMode,
				jsonOut:    jsonOut,
				configPath: configPath,
			})
		},
	}

	cmd.Flags().StringVar(&packetURI, "packet", "", "Packet URI (dir://, oci://, or hub:// scheme); required")
	cmd.Flags().IntVar(&k, "k", 20, "Number of candidates to retrieve before reranking")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Context package token budget (0: compiler picks a default)")
	cmd.Flags().Int64Var(&asOf, "as-of", 0, "Resolve the packet as of this unix timestamp (0: latest)")
	cmd.Flags().StringVar(&rerankMode, "rerank", "token-diversity", "Reranker: noop or token-diversity")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the compiled package as JSON")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to cpm.yaml (default: <project-root>/cpm.yaml)")
	_ = cmd.MarkFlagRequired("packet")

	return cmd
}

type queryOptions struct {
	query      string
	packetURI  string
	k          int
	maxTokens  int
	asOf       int64
	rerankMode string
	jsonOut    bool
	configPath string
}

func runQuery(cmd *cobra.Command, opts queryOptions) error {
	ctx := cmd.Context()

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	root, err := config.FindProjectRoot(cwd)
	if err != nil {
		root = cwd
	}
	cfgPath := opts.configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(root, "cpm.yaml")
	}
	cfg, err := config.Load(cfgPath)
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

	req := query.Request{
		Query:      opts.query,
		PacketURI:  opts.packetURI,
		K:          opts.k,
		MaxTokens:  opts.maxTokens,
		RerankMode: opts.rerankMode,
	}
	if opts.asOf != 0 {
		req.AsOf = &opts.asOf
	}

	result := engine.Run(ctx, req)
	return renderQueryResult(cmd, result, opts.jsonOut)
}

// buildQueryEngine wires the source registry (dir + OCI, plus hub when the
// policy sets a hub URL, hub delegating to the dir + OCI registry for its
// underlying fetch),
// local cache, trust verifier, policy engine, embedder, reranker, replay
// store, and snapshot store that query.Engine needs for one run.
func buildQueryEngine(ctx context.Context, root string, cfg *config.Config, pol *config.Policy) (*query.Engine, error) {
	inner := source.NewRegistry(source.NewDirSource(), source.NewOciSource())
	registry := inner
	if pol.HubURL != "" {
		registry = source.NewRegistry(source.NewDirSource(), source.NewOciSource(), source.NewHubSource(pol.HubURL, inner))
	}

	cacheDir := filepath.Join(root, ".cpe", "cache")
	cache, err := cas.NewCache(cacheDir, 0)
	if err != nil {
		return nil, err
	}

	verifier := trust.NewVerifier(trust.NewReferrersAPIStore(), pol.TrustWeights, pol.IssuerKeys)

	embedder, err := embed.NewEmbedder(ctx, cfg.Embeddings)
	if err != nil {
		return nil, err
	}

	var reranker rerank.Reranker
	switch cfg.Retrieval.Reranker {
	case "noop":
		reranker = rerank.NewNoopReranker()
	default:
		reranker = rerank.NewTokenDiversityReranker(0.5)
	}

	return &query.Engine{
		Sources:       registry,
		Cache:         cache,
		Verifier:      verifier,
		PolicyEngine:  policy.NewEngine(),
		Policy:        pol,
		Embedder:      embedder,
		Reranker:      reranker,
		NoopReranker:  rerank.NewNoopReranker(),
		ReplayStore:   replay.NewStore(filepath.Join(root, ".cpe", "state", "replay")),
		SnapshotStore: timetravel.NewStore(filepath.Join(root, ".cpe", "state", "locks")),
	}, nil
}

func renderQueryResult(cmd *cobra.Command, result *query.Result, jsonOut bool) error {
	out := cmd.OutOrStdout()

	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "State: %s  trace: %s\n", result.State, result.TraceID)
		if result.ReplayLogPath != "" {
			fmt.Fprintf(out, "Replay log: %s\n", result.ReplayLogPath)
		}
		for _, w := range result.Warnings {
			fmt.Fprintf(out, "warning: %s\n", w)
		}
		if result.Package != nil {
			fmt.Fprintln(out, "\nOutline:")
			for _, line := range result.Package.Outline {
				fmt.Fprintf(out, "  - %s\n", line)
			}
			fmt.Fprintln(out, "\nCore snippets:")
			for _, s := range result.Package.CoreSnippets {
				fmt.Fprintf(out, "--- %s (score %.3f) ---\n%s\n", s.Citation.Path, s.Citation.Score, s.Text)
			}
		}
	}

	if result.Failure != nil {
		return cerr.Wrap(queryFailureKind(result.Failure.Reason), result.Failure)
	}
	return nil
}

// queryFailureKind maps a query-lifecycle failure reason to the structured
// error kind the cmd/ boundary uses to pick a process exit code.
func queryFailureKind(reason query.FailureReason) string {
	switch reason {
	case query.ReasonQueryEmpty:
		return cerr.KindQueryEmpty
	case query.ReasonBudgetExceeded:
		return cerr.KindBudgetExceeded
	case query.ReasonReplayMismatch:
		return cerr.KindReplayMismatch
	case query.ReasonPolicyDenied:
		return cerr.KindPolicyDeny
	case query.ReasonSourceError:
		return cerr.KindSourceResolveError
	case query.ReasonVerifyError:
		return cerr.KindTrustViolation
	default:
		return cerr.KindIndexError
	}
}
