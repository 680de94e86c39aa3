// Package query implements the query lifecycle state machine: Parsed ->
// SourceResolved -> Fetched -> Verified -> PolicyApproved -> Retrieved ->
// Reranked -> Compiled -> Emitted, with any state able to fail, and
// Verified -> PolicyApproved additionally able to warn under policy
// mode=warn.
//
// Engine wires together every stage built elsewhere in the module: source
// resolution (internal/source), local caching (internal/cas), trust
// verification (internal/trust), policy evaluation (internal/policy),
// retrieval fusion (an RRF formula over the dense/sparse index types),
// reranking (internal/rerank), context compilation (internal/compile),
// and replay logging (internal/replay). The orchestration shape — a
// single engine method driving a named pipeline of stages, any of which
// can abort with a typed failure — generalizes a one-way build pipeline
// into a query that must also record a replay log on every exit path.
package query

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Aman-CERP/cpe/internal/cas"
	"github.com/Aman-CERP/cpe/internal/compile"
	"github.com/Aman-CERP/cpe/internal/config"
	"github.com/Aman-CERP/cpe/internal/embed"
	"github.com/Aman-CERP/cpe/internal/index/dense"
	"github.com/Aman-CERP/cpe/internal/index/sparse"
	"github.com/Aman-CERP/cpe/internal/packet"
	"github.com/Aman-CERP/cpe/internal/policy"
	"github.com/Aman-CERP/cpe/internal/replay"
	"github.com/Aman-CERP/cpe/internal/rerank"
	"github.com/Aman-CERP/cpe/internal/source"
	"github.com/Aman-CERP/cpe/internal/timetravel"
	"github.com/Aman-CERP/cpe/internal/trust"
)

// State is one node in the query lifecycle state machine.
type State string

const (
	StateParsed         State = "Parsed"
	StateSourceResolved State = "SourceResolved"
	StateFetched        State = "Fetched"
	StateVerified       State = "Verified"
	StatePolicyApproved State = "PolicyApproved"
	StateRetrieved      State = "Retrieved"
	StateReranked       State = "Reranked"
	StateCompiled       State = "Compiled"
	StateEmitted        State = "Emitted"
	StateWarned         State = "Warned"
	StateFailed         State = "Failed"
)

// FailureReason is a typed reason a query can fail with.
type FailureReason string

const (
	ReasonIndexError     FailureReason = "IndexError"
	ReasonQueryEmpty     FailureReason = "QueryEmpty"
	ReasonBudgetExceeded FailureReason = "BudgetExceeded"
	ReasonReplayMismatch FailureReason = "ReplayMismatch"
	ReasonPolicyDenied   FailureReason = "PolicyDenied"
	ReasonSourceError    FailureReason = "SourceError"
	ReasonVerifyError    FailureReason = "VerifyError"
)

// Error is the typed failure a query transitions to Failed with.
type Error struct {
	Reason  FailureReason
	State   State // the state the pipeline was in when it failed
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("query: %s at %s: %s", e.Reason, e.State, e.Message)
}

func fail(state State, reason FailureReason, format string, args ...any) *Error {
	return &Error{Reason: reason, State: state, Message: fmt.Sprintf(format, args...)}
}

// Request is one query invocation's parameters.
type Request struct {
	Query      string
	PacketURI  string
	K          int
	MaxTokens  int
	AsOf       *int64 // unix seconds; resolves via timetravel.Store when set
	RerankMode string // "noop" or "token-diversity"; empty defaults to "token-diversity"
}

// Result is the engine's terminal output: either a compiled package on
// success, or a typed failure, always paired with a written replay log.
type Result struct {
	State         State
	Warnings      []string
	Package       *compile.Package
	ReplayLogPath string
	TraceID       string
	PacketDigest  string
	Failure       *Error
}

// Engine holds every stage's dependency. Policy may be nil (every operation
// is allowed); SnapshotStore and ReplayStore may be nil (Request.AsOf is then
// ignored, and no replay log is written).
type Engine struct {
	Sources       *source.Registry
	Cache         *cas.Cache
	Verifier      *trust.Verifier
	PolicyEngine  *policy.Engine
	Policy        *config.Policy
	Embedder      embed.Embedder
	Reranker      rerank.Reranker
	NoopReranker  rerank.Reranker
	ReplayStore   *replay.Store
	SnapshotStore *timetravel.Store
}

// Run drives a single query through the full lifecycle, writing a replay
// log on every exit path, whether it ends Emitted or Failed.
func (e *Engine) Run(ctx context.Context, req Request) *Result {
	traceID := replay.NewTraceID()
	res := &Result{State: StateParsed, TraceID: traceID}

	ref, err := e.resolveSource(ctx, req)
	if err != nil {
		return e.finish(res, req, asQueryError(err, StateSourceResolved, ReasonSourceError))
	}
	res.State = StateSourceResolved
	res.PacketDigest = ref.Digest

	packetDir, err := e.fetch(ctx, ref)
	if err != nil {
		return e.finish(res, req, asQueryError(err, StateFetched, ReasonSourceError))
	}
	res.State = StateFetched

	lp, err := packet.Open(packetDir)
	if err != nil {
		return e.finish(res, req, fail(StateFetched, ReasonIndexError, "%v", err))
	}

	trustReport := e.verify(ctx, ref, lp)
	res.State = StateVerified

	decision, err := e.evaluatePolicy(ctx, req, ref, trustReport)
	if err != nil {
		return e.finish(res, req, fail(StatePolicyApproved, ReasonPolicyDenied, "%v", err))
	}
	if !decision.Allow {
		res.State = StateFailed
		return e.finish(res, req, fail(StatePolicyApproved, ReasonPolicyDenied, "%s", joinReasons(decision.Reasons)))
	}
	if decision.Warn {
		res.State = StateWarned
		res.Warnings = append(res.Warnings, decision.Reasons...)
	} else {
		res.State = StatePolicyApproved
	}

	candidates, err := e.retrieve(ctx, packetDir, lp, req)
	if err != nil {
		return e.finish(res, req, fail(StateRetrieved, ReasonIndexError, "%v", err))
	}
	res.State = StateRetrieved

	reranked, err := e.rerank(ctx, req, candidates)
	if err != nil {
		return e.finish(res, req, fail(StateReranked, ReasonIndexError, "%v", err))
	}
	res.State = StateReranked

	pkg, err := e.compile(req, reranked)
	if err != nil {
		return e.finish(res, req, fail(StateCompiled, ReasonBudgetExceeded, "%v", err))
	}
	res.State = StateCompiled
	res.Package = pkg

	res.State = StateEmitted
	return e.finish(res, req, nil)
}

func (e *Engine) resolveSource(ctx context.Context, req Request) (packet.PacketReference, error) {
	if req.AsOf != nil && e.SnapshotStore != nil {
		snap, err := e.SnapshotStore.Resolve(req.PacketURI, *req.AsOf)
		if err != nil {
			return packet.PacketReference{}, err
		}
		return packet.PacketReference{URI: snap.Source, Digest: snap.Digest}, nil
	}
	return e.Sources.Resolve(ctx, req.PacketURI)
}

func (e *Engine) fetch(ctx context.Context, ref packet.PacketReference) (string, error) {
	if ref.Digest == "" {
		return "", fmt.Errorf("resolved reference has no digest")
	}

	release := e.Cache.Reserve(ref.Digest)
	defer release()

	has, err := e.Cache.Has(ref.Digest)
	if err != nil {
		return "", err
	}
	if !has {
		if err := e.Cache.Put(ref.Digest, 0, func(dir string) error {
			return e.Sources.Fetch(ctx, ref, dir)
		}); err != nil {
			return "", err
		}
	}
	return e.Cache.Path(ref.Digest)
}

func (e *Engine) verify(ctx context.Context, ref packet.PacketReference, lp *packet.LocalPacket) packet.TrustReport {
	known := map[string]bool{}
	if lp.Manifest != nil {
		for _, c := range lp.Manifest.Checksums {
			known[c.Value] = true
		}
	}
	repo := repoFromURI(ref.URI)
	return e.Verifier.Verify(ctx, repo, ref.Digest, known)
}

func (e *Engine) evaluatePolicy(ctx context.Context, req Request, ref packet.PacketReference, trustReport packet.TrustReport) (policy.Decision, error) {
	return e.PolicyEngine.Evaluate(ctx, e.Policy, policy.OperationQuery, policy.Context{
		SourceURI:      ref.URI,
		TrustScore:     trustReport.Score,
		HasTrustReport: true,
		Tokens:         req.MaxTokens,
	})
}

// candidateSet bundles a retrieved chunk with its dense/sparse provenance
// before fusion, rerank, and compilation each narrow it further.
type candidateSet struct {
	chunk      packet.Chunk
	vector     []float32
	dense      bool
	sparse     bool
	denseRank  int
	denseScore float64
	sparseRank int
}

func (e *Engine) retrieve(ctx context.Context, packetDir string, lp *packet.LocalPacket, req Request) ([]rerank.Candidate, error) {
	if req.Query == "" {
		return nil, fail(StateRetrieved, ReasonQueryEmpty, "query text is empty")
	}

	docs, err := packet.ReadDocs(packetDir)
	if err != nil {
		return nil, err
	}
	vectors, err := packet.ReadVectors(packetDir, lp.Manifest.Counts.Vectors, lp.Manifest.Embedding.Dim)
	if err != nil {
		return nil, err
	}
	if len(docs) != len(vectors) {
		return nil, fmt.Errorf("docs/vectors row mismatch: %d vs %d", len(docs), len(vectors))
	}

	byID := make(map[string]candidateSet, len(docs))
	for i, d := range docs {
		byID[d.ID] = candidateSet{chunk: d, vector: vectors[i]}
	}

	k := req.K
	if k <= 0 {
		k = 10
	}
	// Both retrievers over-fetch at k' = max(k*4, 50) before RRF fusion, per
	// spec.md §4.7: fusing over a wider candidate pool than the final top-k
	// lets a chunk that ranks outside the final cut in one retriever but
	// highly in the other still surface after reciprocal-rank combination.
	kPrime := k * 4
	if kPrime < 50 {
		kPrime = 50
	}

	denseHits, err := e.searchDense(ctx, packetDir, req.Query, vectors, lp.Manifest.Embedding.Dim, kPrime)
	if err != nil {
		return nil, err
	}
	for rank, hit := range denseHits {
		d := docs[hit.Row]
		cs := byID[d.ID]
		cs.dense = true
		cs.denseRank = rank + 1
		cs.denseScore = float64(hit.Score)
		byID[d.ID] = cs
	}

	sparseHits, err := e.searchSparse(ctx, packetDir, req.Query, kPrime)
	if err != nil {
		return nil, err
	}
	for rank, hit := range sparseHits {
		cs, ok := byID[hit.ID]
		if !ok {
			continue
		}
		cs.sparse = true
		cs.sparseRank = rank + 1
		byID[hit.ID] = cs
	}

	return fuseRRF(byID, k), nil
}

// searchDense loads the packet's serialized faiss/index.faiss artifact (a
// gob-encoded dense.FlatIP, per dense.FlatIP.Marshal) rather than
// rebuilding an index from raw vectors on every query.
func (e *Engine) searchDense(ctx context.Context, packetDir, query string, vectors [][]float32, dim, k int) ([]dense.Result, error) {
	queryVec, err := e.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(packetDir, packet.FileFaissIndex))
	var idx dense.Index
	if err == nil {
		idx, err = dense.UnmarshalFlatIP(data)
	}
	if err != nil {
		// Fall back to building from the packet's raw vectors: a packet
		// fetched without its dense artifact (sparse-only retrieval caps)
		// still allows a dense search against the vectors it does carry.
		flat := dense.NewFlatIP(dim)
		if addErr := flat.Add(vectors); addErr != nil {
			return nil, addErr
		}
		idx = flat
	}

	return idx.Search(queryVec, k)
}

// searchSparse loads the packet's serialized bm25.bin artifact (a tar.gz'd
// bleve index, per sparse.Build) rather than rebuilding the keyword index
// from raw chunk text on every query.
func (e *Engine) searchSparse(ctx context.Context, packetDir, query string, k int) ([]sparse.Hit, error) {
	data, err := os.ReadFile(filepath.Join(packetDir, packet.FileBM25))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // packet has no sparse artifact; dense-only retrieval caps
		}
		return nil, err
	}

	searcher, err := sparse.Open(data)
	if err != nil {
		return nil, err
	}
	defer searcher.Close()

	return searcher.Search(ctx, query, k)
}

// rrfK is the RRF smoothing constant (k=60, validated across domains by
// Azure AI Search/OpenSearch).
const rrfK = 60

// fuseRRF combines dense and sparse rankings via Reciprocal Rank Fusion,
// RRF_score(d) = sum(1 / (k + rank_i)) over the lists d appears in.
func fuseRRF(byID map[string]candidateSet, topK int) []rerank.Candidate {
	type scored struct {
		cs    candidateSet
		score float64
	}
	var all []scored
	for _, cs := range byID {
		if !cs.dense && !cs.sparse {
			continue
		}
		var score float64
		if cs.dense {
			score += 1.0 / float64(rrfK+cs.denseRank)
		}
		if cs.sparse {
			score += 1.0 / float64(rrfK+cs.sparseRank)
		}
		all = append(all, scored{cs: cs, score: score})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		if all[i].cs.denseScore != all[j].cs.denseScore {
			return all[i].cs.denseScore > all[j].cs.denseScore
		}
		return all[i].cs.chunk.ID < all[j].cs.chunk.ID
	})
	if topK > 0 && topK < len(all) {
		all = all[:topK]
	}

	out := make([]rerank.Candidate, len(all))
	for i, s := range all {
		out[i] = rerank.Candidate{
			ChunkID: s.cs.chunk.ID,
			Text:    s.cs.chunk.Text,
			Score:   s.score,
			Vector:  s.cs.vector,
		}
	}
	return out
}

func (e *Engine) rerank(ctx context.Context, req Request, candidates []rerank.Candidate) ([]rerank.Candidate, error) {
	r := e.Reranker
	if req.RerankMode == "noop" {
		r = e.NoopReranker
	}
	if r == nil {
		r = rerank.NewNoopReranker()
	}
	return r.Rerank(ctx, req.Query, candidates)
}

func (e *Engine) compile(req Request, candidates []rerank.Candidate) (*compile.Package, error) {
	snippets := make([]compile.Snippet, len(candidates))
	for i, c := range candidates {
		snippets[i] = compile.Snippet{
			ChunkID: c.ChunkID,
			Text:    c.Text,
			Score:   c.Score,
			Vector:  c.Vector,
		}
	}
	return compile.Compile(compile.Input{Snippets: snippets, MaxTokens: req.MaxTokens})
}

// finish writes the replay log for res regardless of outcome, and returns
// res with its Failure field set if qerr is non-nil.
func (e *Engine) finish(res *Result, req Request, qerr *Error) *Result {
	state := "Emitted"
	failureReason := ""
	if qerr != nil {
		res.Failure = qerr
		res.State = StateFailed
		state = "Failed"
		failureReason = string(qerr.Reason)
	}

	resultHash, _ := replay.HashJSON(res.Package)
	compilerHash := resultHash

	rerankerName := req.RerankMode
	if rerankerName == "" {
		rerankerName = "token-diversity"
	}

	log := replay.Log{
		TraceID:            res.TraceID,
		Query:              req.Query,
		PacketDigest:       res.PacketDigest,
		Indexer:            "hybrid-rrf",
		Reranker:           rerankerName,
		K:                  req.K,
		PolicyDecision:     decisionSummary(res),
		ResultHash:         resultHash,
		CompilerOutputHash: compilerHash,
		Timestamp:          time.Now().Unix(),
		State:              state,
		FailureReason:      failureReason,
	}
	if e.Embedder != nil {
		log.Model = e.Embedder.ModelName()
	}

	if e.ReplayStore != nil {
		if path, err := e.ReplayStore.Write(log); err == nil {
			res.ReplayLogPath = path
		}
	}

	return res
}

func decisionSummary(res *Result) string {
	if res.Failure != nil && res.Failure.Reason == ReasonPolicyDenied {
		return "deny"
	}
	if len(res.Warnings) > 0 {
		return "warn"
	}
	return "allow"
}

func asQueryError(err error, state State, reason FailureReason) *Error {
	if qerr, ok := err.(*Error); ok {
		return qerr
	}
	return fail(state, reason, "%v", err)
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}

func repoFromURI(uri string) string {
	return uri
}
