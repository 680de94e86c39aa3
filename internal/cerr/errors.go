package cerr

import "fmt"

// Error is the structured error type used across the engine. It carries enough
// context (code, category, severity, typed detail, suggestion) that the CLI
// boundary can print a single typed line and pick the right exit code without
// re-deriving anything from the error string.
type Error struct {
	Kind       string
	Message    string
	Category   Category
	Severity   Severity
	Details    map[string]string
	Cause      error
	Retryable  bool
	Suggestion string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap exposes the cause so errors.Is/errors.As can walk the chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by Kind, so errors.Is(err, cerr.New(cerr.KindPolicyDeny, "", nil)) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail attaches a key-value detail and returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion attaches an actionable suggestion for the user-facing line.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// New builds an *Error for the given kind, deriving category/severity/retryable from it.
func New(kind, message string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Category:  categoryFromKind(kind),
		Severity:  severityFromKind(kind),
		Cause:     cause,
		Retryable: isRetryableKind(kind),
	}
}

// Wrap turns an existing error into a typed *Error of the given kind.
func Wrap(kind string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(kind, err.Error(), err)
}

// TrustViolation builds the spec's TrustViolation{signature|sbom|provenance|score} error.
func TrustViolation(component string, cause error) *Error {
	return New(KindTrustViolation, "trust verification failed: "+component, cause).
		WithDetail("component", component)
}

// PolicyDeny builds the spec's PolicyDeny{rule} error.
func PolicyDeny(rule string) *Error {
	return New(KindPolicyDeny, "policy denied: "+rule, nil).WithDetail("rule", rule)
}

// LockMismatch builds the spec's LockMismatch{artifact} error.
func LockMismatch(artifact string) *Error {
	return New(KindLockMismatch, "lockfile mismatch: "+artifact, nil).WithDetail("artifact", artifact)
}

// Is reports whether err is a *Error with the given kind.
func Is(err error, kind string) bool {
	var e *Error
	if as(err, &e) {
		return e.Kind == kind
	}
	return false
}

// as is a tiny local errors.As to avoid importing "errors" just for this helper
// while keeping the package dependency-free for callers that only need the type.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
