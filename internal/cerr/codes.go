// Package cerr provides the structured error type shared by every stage of the
// context packet engine, from scanning through query replay.
//
// Error codes follow the pattern ERR_XXX_KIND where:
//   - 1XX: usage / configuration errors
//   - 2XX: IO errors (file, disk, cache)
//   - 3XX: network / embedder / source-resolve / fetch errors
//   - 4XX: chunking / indexing / validation errors
//   - 5XX: query errors (empty result, budget exceeded)
//   - 6XX: trust and policy errors
//   - 7XX: lock and replay errors
//   - 9XX: internal errors
package cerr

// Category classifies an error for logging.
type Category string

const (
	CategoryUsage      Category = "USAGE"
	CategoryIO         Category = "IO"
	CategoryNetwork    Category = "NETWORK"
	CategoryValidation Category = "VALIDATION"
	CategoryQuery      Category = "QUERY"
	CategoryTrust      Category = "TRUST"
	CategoryPolicy     Category = "POLICY"
	CategoryLock       Category = "LOCK"
	CategoryReplay     Category = "REPLAY"
	CategoryInternal   Category = "INTERNAL"
)

// Severity indicates how the caller should react.
type Severity string

const (
	SeverityFatal   Severity = "FATAL"
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

// Kinds name the stable, machine-matchable error categories the engine
// can fail with, one per distinct failure family.
const (
	KindUsageError          = "ERR_101_USAGE"
	KindIoError             = "ERR_201_IO"
	KindCacheError          = "ERR_202_CACHE"
	KindChunkingError       = "ERR_401_CHUNKING"
	KindEmbedderError       = "ERR_301_EMBEDDER"
	KindSourceResolveError  = "ERR_302_SOURCE_RESOLVE"
	KindFetchError          = "ERR_303_FETCH"
	KindIndexError          = "ERR_402_INDEX"
	KindQueryEmpty          = "ERR_501_QUERY_EMPTY"
	KindBudgetExceeded      = "ERR_502_BUDGET_EXCEEDED"
	KindTrustViolation      = "ERR_601_TRUST_VIOLATION"
	KindPolicyDeny          = "ERR_602_POLICY_DENY"
	KindLockMismatch        = "ERR_701_LOCK_MISMATCH"
	KindReplayMismatch      = "ERR_702_REPLAY_MISMATCH"
	KindInternal            = "ERR_901_INTERNAL"
)

// ExitCode maps a Kind to the process's exit code.
func ExitCode(kind string) int {
	switch kind {
	case KindUsageError:
		return 2
	case KindPolicyDeny:
		return 3
	case KindTrustViolation:
		return 4
	case KindLockMismatch:
		return 5
	default:
		if kind == "" {
			return 0
		}
		return 10
	}
}

func categoryFromKind(kind string) Category {
	switch kind {
	case KindUsageError:
		return CategoryUsage
	case KindIoError, KindCacheError:
		return CategoryIO
	case KindEmbedderError, KindSourceResolveError, KindFetchError:
		return CategoryNetwork
	case KindChunkingError, KindIndexError:
		return CategoryValidation
	case KindQueryEmpty, KindBudgetExceeded:
		return CategoryQuery
	case KindTrustViolation:
		return CategoryTrust
	case KindPolicyDeny:
		return CategoryPolicy
	case KindLockMismatch:
		return CategoryLock
	case KindReplayMismatch:
		return CategoryReplay
	default:
		return CategoryInternal
	}
}

func severityFromKind(kind string) Severity {
	switch kind {
	case KindTrustViolation, KindPolicyDeny, KindLockMismatch:
		return SeverityFatal
	case KindEmbedderError, KindSourceResolveError, KindFetchError:
		return SeverityWarning
	default:
		return SeverityError
	}
}

func isRetryableKind(kind string) bool {
	switch kind {
	case KindEmbedderError, KindSourceResolveError, KindFetchError:
		return true
	default:
		return false
	}
}
