package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PolicyMode is the enforcement mode for a loaded Policy: strict denies
// on any violation, warn surfaces violations but still proceeds.
type PolicyMode string

const (
	PolicyModeStrict PolicyMode = "strict"
	PolicyModeWarn   PolicyMode = "warn"
)

// RequireFlags lists which trust artifacts a packet must carry.
type RequireFlags struct {
	Signature  bool `yaml:"signature" json:"signature"`
	SBOM       bool `yaml:"sbom" json:"sbom"`
	Provenance bool `yaml:"provenance" json:"provenance"`
}

// TrustWeights exposes the trust score weighting as policy-tunable.
type TrustWeights struct {
	Signature  float64 `yaml:"signature" json:"signature"`
	SBOM       float64 `yaml:"sbom" json:"sbom"`
	Provenance float64 `yaml:"provenance" json:"provenance"`
}

// DefaultTrustWeights returns the 0.5/0.25/0.25 default weighting.
func DefaultTrustWeights() TrustWeights {
	return TrustWeights{Signature: 0.5, SBOM: 0.25, Provenance: 0.25}
}

// Policy is the document evaluated by internal/policy.Engine for every
// query: which sources are trusted, the minimum trust score to accept,
// and what verification artifacts are mandatory.
type Policy struct {
	Mode                PolicyMode        `yaml:"mode" json:"mode"`
	AllowedSources      []string          `yaml:"allowed_sources" json:"allowed_sources"`
	MinTrustScore       float64           `yaml:"min_trust_score" json:"min_trust_score"`
	MaxTokens           int               `yaml:"max_tokens" json:"max_tokens"`
	Require             RequireFlags      `yaml:"require" json:"require"`
	TrustWeights        TrustWeights      `yaml:"trust_weights" json:"trust_weights"`
	EnforceRemotePolicy bool              `yaml:"enforce_remote_policy" json:"enforce_remote_policy"`
	HubURL              string            `yaml:"hub_url" json:"hub_url"`
	// IssuerKeys maps a signature envelope's key id to a base64-encoded
	// ed25519 public key that signatures are verified against.
	IssuerKeys map[string]string `yaml:"issuer_keys" json:"issuer_keys"`
}

// DefaultPolicy returns a permissive default policy (warn mode, no source
// restriction) suitable for local development.
func DefaultPolicy() *Policy {
	return &Policy{
		Mode:           PolicyModeWarn,
		AllowedSources: []string{"*"},
		MinTrustScore:  0,
		MaxTokens:      0,
		TrustWeights:   DefaultTrustWeights(),
	}
}

// LoadPolicy reads policy.yml, falling back to DefaultPolicy() if absent.
func LoadPolicy(path string) (*Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("reading policy %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing policy %s: %w", path, err)
	}
	if p.TrustWeights == (TrustWeights{}) {
		p.TrustWeights = DefaultTrustWeights()
	}
	return p, nil
}
