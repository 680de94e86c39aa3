// Package replay records and reproduces query executions. Every query
// emits a log under state/replay/query-<timestamp>.json describing the
// exact parameters and output hashes it produced; replay re-runs those
// parameters against the packet URI it is given, resolved afresh (the logged
// packet_digest is recorded but does not pin the packet), and checks that
// the hashes reproduce exactly.
//
// Each run is written atomically as its own JSON file; the trace id is a
// google/uuid value, logged as an extra slog attribute alongside the
// CLI's other structured log fields.
package replay

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Log is the replay record for one query execution.
type Log struct {
	TraceID            string `json:"trace_id"`
	Query              string `json:"query"`
	PacketDigest       string `json:"packet_digest"`
	Model              string `json:"model"`
	Indexer            string `json:"indexer"`
	Reranker           string `json:"reranker"`
	K                  int    `json:"k"`
	PolicyDecision     string `json:"policy_decision"`
	ResultHash         string `json:"result_hash"`
	CompilerOutputHash string `json:"compiler_output_hash"`
	Timestamp          int64  `json:"timestamp"`
	State              string `json:"state"` // terminal query-lifecycle state: "Emitted" or "Failed"
	FailureReason      string `json:"failure_reason,omitempty"`
}

// NewTraceID generates a fresh trace id correlating a query's internal
// pipeline stages in logs with its eventual replay log.
func NewTraceID() string {
	return uuid.NewString()
}

// HashJSON returns the hex-encoded sha256 digest of v's canonical JSON
// encoding, used for both result_hash and compiler_output_hash so replay
// can compare reproduced output byte-for-byte without storing it twice.
func HashJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("replay: hash input: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Store writes and reads replay logs under a state/replay directory.
type Store struct {
	dir string
}

// NewStore constructs a Store rooted at dir (typically
// <workspace>/state/replay).
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Write persists log atomically (temp file + rename) and logs a summary
// line tagged with the log's trace id.
func (s *Store) Write(log Log) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("replay: create replay dir: %w", err)
	}

	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return "", fmt.Errorf("replay: marshal log: %w", err)
	}

	path := filepath.Join(s.dir, fmt.Sprintf("query-%d.json", log.Timestamp))
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return "", fmt.Errorf("replay: write log: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("replay: rename log into place: %w", err)
	}

	slog.Info("replay_log_written",
		slog.String("trace_id", log.TraceID),
		slog.String("state", log.State),
		slog.String("path", path))

	return path, nil
}

// Read loads a replay log from path.
func Read(path string) (*Log, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("replay: read log %s: %w", path, err)
	}
	var log Log
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("replay: parse log %s: %w", path, err)
	}
	return &log, nil
}

// Outcome is the result of comparing a reproduced execution's hashes
// against the logged ones.
type Outcome struct {
	Reproduced             bool
	ResultHashMatches      bool
	CompilerOutputMatches  bool
}

// Verify compares a freshly computed resultHash/compilerOutputHash pair
// against the ones recorded in log. Replay succeeds iff both hashes
// reproduce exactly.
func Verify(log *Log, resultHash, compilerOutputHash string) Outcome {
	resultMatch := log.ResultHash == resultHash
	compilerMatch := log.CompilerOutputHash == compilerOutputHash
	return Outcome{
		Reproduced:            resultMatch && compilerMatch,
		ResultHashMatches:     resultMatch,
		CompilerOutputMatches: compilerMatch,
	}
}
