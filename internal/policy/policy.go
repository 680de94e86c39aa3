// Package policy evaluates build/install/query/fetch operations against a
// config.Policy document. Glob matching for allowed_sources uses
// bmatcuk/doublestar/v4.
package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Aman-CERP/cpe/internal/config"
)

// OperationKind names one of the four operations a policy gates.
type OperationKind string

const (
	OperationBuild   OperationKind = "build"
	OperationInstall OperationKind = "install"
	OperationQuery   OperationKind = "query"
	OperationFetch   OperationKind = "fetch"
)

// Context is the per-evaluation input an Engine needs a decision on.
type Context struct {
	SourceURI      string
	TrustScore     float64
	HasTrustReport bool
	Tokens         int
	DeclaredModel  string
}

// Decision is a policy evaluation's outcome.
type Decision struct {
	Allow   bool
	Warn    bool
	Reasons []string
}

func deny(reason string) Decision {
	return Decision{Allow: false, Reasons: []string{reason}}
}

func allow() Decision {
	return Decision{Allow: true}
}

// remotePolicyRequest/Response mirror the hub's /v1/policy/evaluate contract.
type remotePolicyRequest struct {
	Operation OperationKind `json:"operation"`
	Context   Context       `json:"context"`
}

type remotePolicyResponse struct {
	Decision string   `json:"decision"` // "allow" | "deny" | "warn"
	Reasons  []string `json:"reasons"`
}

// Engine evaluates operations against a config.Policy, optionally
// consulting a remote hub.
type Engine struct {
	client *http.Client
}

// NewEngine constructs an Engine. A zero-value Engine works fine too; the
// http.Client is only used when a policy's HubURL + EnforceRemotePolicy are set.
func NewEngine() *Engine {
	return &Engine{client: &http.Client{Timeout: 10 * time.Second}}
}

// Evaluate runs the local policy rules, then optionally POSTs to the
// configured hub's /v1/policy/evaluate. A deny from either side is final.
func (e *Engine) Evaluate(ctx context.Context, p *config.Policy, op OperationKind, c Context) (Decision, error) {
	if p == nil {
		return allow(), nil
	}

	if d := evaluateLocal(p, c); !d.Allow {
		if p.Mode == config.PolicyModeWarn {
			d.Allow = true
			d.Warn = true
		}
		return d, nil
	}

	if p.HubURL != "" && p.EnforceRemotePolicy {
		remote, err := e.evaluateRemote(ctx, p, op, c)
		if err != nil {
			// fail-closed when enforce_remote_policy=true.
			return deny(fmt.Sprintf("remote policy evaluation unavailable: %v", err)), nil
		}
		if remote.Decision == "deny" {
			d := Decision{Allow: false, Reasons: remote.Reasons}
			if p.Mode == config.PolicyModeWarn {
				d.Allow = true
				d.Warn = true
			}
			return d, nil
		}
		if remote.Decision == "warn" {
			return Decision{Allow: true, Warn: true, Reasons: remote.Reasons}, nil
		}
	}

	return allow(), nil
}

func evaluateLocal(p *config.Policy, c Context) Decision {
	if len(p.AllowedSources) > 0 && c.SourceURI != "" {
		matched, err := matchesAny(p.AllowedSources, c.SourceURI)
		if err != nil {
			return deny(err.Error())
		}
		if !matched {
			return deny(fmt.Sprintf("source %q does not match any allowed_sources pattern", c.SourceURI))
		}
	}

	if c.HasTrustReport && c.TrustScore < p.MinTrustScore {
		return deny(fmt.Sprintf("trust score %.2f below min_trust_score %.2f", c.TrustScore, p.MinTrustScore))
	}

	if p.Require.Signature || p.Require.SBOM || p.Require.Provenance {
		if !c.HasTrustReport {
			return deny("policy requires a trust report but none is present")
		}
	}

	if p.MaxTokens > 0 && c.Tokens > p.MaxTokens {
		return deny(fmt.Sprintf("compiled context uses %d tokens, exceeding max_tokens %d", c.Tokens, p.MaxTokens))
	}

	return allow()
}

func matchesAny(patterns []string, uri string) (bool, error) {
	for _, pattern := range patterns {
		if pattern == "*" {
			return true, nil
		}
		matched, err := doublestar.Match(pattern, uri)
		if err != nil {
			return false, fmt.Errorf("policy: invalid allowed_sources pattern %q: %w", pattern, err)
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) evaluateRemote(ctx context.Context, p *config.Policy, op OperationKind, c Context) (remotePolicyResponse, error) {
	client := e.client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	body, err := json.Marshal(remotePolicyRequest{Operation: op, Context: c})
	if err != nil {
		return remotePolicyResponse{}, fmt.Errorf("marshaling remote policy request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.HubURL+"/v1/policy/evaluate", bytes.NewReader(body))
	if err != nil {
		return remotePolicyResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return remotePolicyResponse{}, fmt.Errorf("calling %s/v1/policy/evaluate: %w", p.HubURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return remotePolicyResponse{}, fmt.Errorf("remote policy evaluation returned status %d", resp.StatusCode)
	}

	var out remotePolicyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return remotePolicyResponse{}, fmt.Errorf("decoding remote policy response: %w", err)
	}
	return out, nil
}
