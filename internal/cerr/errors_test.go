package cerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDerivesCategoryAndSeverity(t *testing.T) {
	err := New(KindPolicyDeny, "min_trust_score", nil)
	assert.Equal(t, CategoryPolicy, err.Category)
	assert.Equal(t, SeverityFatal, err.Severity)
	assert.False(t, err.Retryable)

	retryable := New(KindFetchError, "timeout", nil)
	assert.True(t, retryable.Retryable)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := Wrap(KindIoError, cause)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "boom", err.Message)
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(KindIoError, nil))
}

func TestExitCodeMapping(t *testing.T) {
	cases := map[string]int{
		"":                  0,
		KindUsageError:      2,
		KindPolicyDeny:      3,
		KindTrustViolation:  4,
		KindLockMismatch:    5,
		KindInternal:        10,
	}
	for kind, want := range cases {
		assert.Equal(t, want, ExitCode(kind), "kind=%s", kind)
	}
}

func TestErrorsIsMatchesByKind(t *testing.T) {
	sentinel := New(KindQueryEmpty, "", nil)
	wrapped := fmt.Errorf("context: %w", New(KindQueryEmpty, "no chunks matched", nil))
	assert.True(t, errors.Is(wrapped, sentinel))
}

func TestWithDetailAndSuggestionChain(t *testing.T) {
	err := New(KindTrustViolation, "signature", nil).
		WithDetail("component", "signature").
		WithSuggestion("publish with a signed referrer")
	assert.Equal(t, "signature", err.Details["component"])
	assert.Equal(t, "publish with a signed referrer", err.Suggestion)
}

func TestTrustViolationHelper(t *testing.T) {
	err := TrustViolation("sbom", nil)
	assert.Equal(t, KindTrustViolation, err.Kind)
	assert.Equal(t, "sbom", err.Details["component"])
}

func TestPolicyDenyHelper(t *testing.T) {
	err := PolicyDeny("allowed_sources")
	assert.Equal(t, "allowed_sources", err.Details["rule"])
	assert.Equal(t, 3, ExitCode(err.Kind))
}

func TestLockMismatchHelper(t *testing.T) {
	err := LockMismatch("vectors.f16.bin")
	assert.Equal(t, "vectors.f16.bin", err.Details["artifact"])
	assert.Equal(t, 5, ExitCode(err.Kind))
}
