// Package trust implements five OCI verification steps: parse/verify a
// signature envelope, parse/validate an SBOM, parse a provenance
// statement, compute a weighted trust score, and emit a TrustReport. No
// signing/attestation library (cosign, sigstore, in-toto) is wired in, so
// the signature envelope format and its ed25519 verification are built
// directly on stdlib crypto/ed25519 — see DESIGN.md for why.
package trust

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/Aman-CERP/cpe/internal/config"
	"github.com/Aman-CERP/cpe/internal/packet"
)

// SignatureEnvelope is the cosign-style envelope a publisher attaches as the
// ".sig" referrer: a detached signature over the packet manifest's digest,
// plus the issuer key id it claims to be signed with.
type SignatureEnvelope struct {
	KeyID     string `json:"key_id"`
	Algorithm string `json:"algorithm"` // always "ed25519"
	Signature []byte `json:"signature"`
}

// SBOMDocument is the minimal shape this engine reads out of a CycloneDX or
// SPDX SBOM referrer: enough to validate format and cross-check referenced
// artifact digests.
type SBOMDocument struct {
	Format              string   `json:"format"` // "CycloneDX" | "SPDX"
	ReferencedArtifacts []string `json:"referenced_artifacts"` // sha256 digests
}

// ProvenanceStatement is the minimal shape read out of an in-toto/SLSA
// provenance referrer.
type ProvenanceStatement struct {
	PredicateType string `json:"predicate_type"`
	SLSALevel     int    `json:"slsa_level"`
}

// Verifier runs the five verification steps against a resolved packet
// reference's referrers and produces the TrustReport attached to
// LocalPacket and to the install/query lock.
type Verifier struct {
	store   ReferrerStore
	weights config.TrustWeights
	keys    map[string]string // issuer key id -> base64 ed25519 public key
}

// NewVerifier builds a Verifier reading referrers from store, scoring with
// the given weights (use policy.TrustWeights, or config.DefaultTrustWeights())
// and verifying signatures against issuerKeys (use policy.IssuerKeys).
func NewVerifier(store ReferrerStore, weights config.TrustWeights, issuerKeys map[string]string) *Verifier {
	return &Verifier{store: store, weights: weights, keys: issuerKeys}
}

// Verify runs all five steps for the manifest at manifestDigest under repo,
// cross-checking SBOM-referenced digests against knownDigests (the
// packet's own manifest checksums).
func (v *Verifier) Verify(ctx context.Context, repo, manifestDigest string, knownDigests map[string]bool) packet.TrustReport {
	report := packet.TrustReport{}

	report.Signature = v.verifySignature(ctx, repo, manifestDigest)
	report.SBOM = v.verifySBOM(ctx, repo, manifestDigest, knownDigests)
	report.Provenance = v.verifyProvenance(ctx, repo, manifestDigest)

	report.Score = v.weights.Signature*boolScore(report.Signature.Valid) +
		v.weights.SBOM*boolScore(report.SBOM.Valid) +
		v.weights.Provenance*boolScore(report.Provenance.Valid)

	if !report.Signature.Present {
		report.Reasons = append(report.Reasons, "no signature referrer found")
	} else if !report.Signature.Valid {
		report.Reasons = append(report.Reasons, "signature referrer failed verification: "+report.Signature.Detail)
	}
	if report.SBOM.Present && !report.SBOM.Valid {
		report.Reasons = append(report.Reasons, "sbom referrer invalid: "+report.SBOM.Detail)
	}
	if report.Provenance.Present && !report.Provenance.Valid {
		report.Reasons = append(report.Reasons, "provenance referrer invalid: "+report.Provenance.Detail)
	}

	return report
}

func boolScore(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

// verifySignature implements step 1: parse the envelope, verify the
// signature over manifestDigest's bytes using the configured issuer key.
func (v *Verifier) verifySignature(ctx context.Context, repo, manifestDigest string) packet.SignalResult {
	data, present, err := v.store.Fetch(ctx, repo, manifestDigest, ReferrerSignature)
	if err != nil {
		return packet.SignalResult{Present: false, Valid: false, Detail: err.Error()}
	}
	if !present {
		return packet.SignalResult{Present: false, Valid: false}
	}

	var env SignatureEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return packet.SignalResult{Present: true, Valid: false, Detail: "malformed signature envelope: " + err.Error()}
	}
	if env.Algorithm != "ed25519" {
		return packet.SignalResult{Present: true, Valid: false, Detail: "unsupported signature algorithm " + env.Algorithm}
	}

	pubKeyB64, ok := v.keys[env.KeyID]
	if !ok {
		return packet.SignalResult{Present: true, Valid: false, Detail: "unknown issuer key id " + env.KeyID}
	}
	pubKey, err := base64.StdEncoding.DecodeString(pubKeyB64)
	if err != nil || len(pubKey) != ed25519.PublicKeySize {
		return packet.SignalResult{Present: true, Valid: false, Detail: "malformed issuer public key for " + env.KeyID}
	}

	valid := ed25519.Verify(ed25519.PublicKey(pubKey), []byte(manifestDigest), env.Signature)
	if !valid {
		return packet.SignalResult{Present: true, Valid: false, Detail: "signature does not verify over manifest digest"}
	}
	return packet.SignalResult{Present: true, Valid: true, Detail: "issuer=" + env.KeyID}
}

// verifySBOM implements step 2: parse, validate format, and ensure every
// digest the SBOM references is actually present among the packet's own
// artifact checksums.
func (v *Verifier) verifySBOM(ctx context.Context, repo, manifestDigest string, knownDigests map[string]bool) packet.SignalResult {
	data, present, err := v.store.Fetch(ctx, repo, manifestDigest, ReferrerSBOM)
	if err != nil {
		return packet.SignalResult{Present: false, Valid: false, Detail: err.Error()}
	}
	if !present {
		return packet.SignalResult{Present: false, Valid: false}
	}

	var doc SBOMDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return packet.SignalResult{Present: true, Valid: false, Detail: "malformed sbom: " + err.Error()}
	}
	if doc.Format != "CycloneDX" && doc.Format != "SPDX" {
		return packet.SignalResult{Present: true, Valid: false, Detail: "unrecognized sbom format " + doc.Format}
	}
	for _, digest := range doc.ReferencedArtifacts {
		if knownDigests != nil && !knownDigests[digest] {
			return packet.SignalResult{Present: true, Valid: false, Detail: fmt.Sprintf("sbom references unknown artifact digest %s", digest)}
		}
	}
	return packet.SignalResult{Present: true, Valid: true, Detail: doc.Format}
}

// verifyProvenance parses the statement and extracts its SLSA level. No
// level threshold is enforced here — it's extracted and recorded, and
// policy decides thresholds.
func (v *Verifier) verifyProvenance(ctx context.Context, repo, manifestDigest string) packet.SignalResult {
	data, present, err := v.store.Fetch(ctx, repo, manifestDigest, ReferrerProvenance)
	if err != nil {
		return packet.SignalResult{Present: false, Valid: false, Detail: err.Error()}
	}
	if !present {
		return packet.SignalResult{Present: false, Valid: false}
	}

	var stmt ProvenanceStatement
	if err := json.Unmarshal(data, &stmt); err != nil {
		return packet.SignalResult{Present: true, Valid: false, Detail: "malformed provenance statement: " + err.Error()}
	}
	if stmt.PredicateType == "" {
		return packet.SignalResult{Present: true, Valid: false, Detail: "provenance statement missing predicate_type"}
	}
	return packet.SignalResult{Present: true, Valid: true, Detail: fmt.Sprintf("slsa_level=%d", stmt.SLSALevel)}
}
