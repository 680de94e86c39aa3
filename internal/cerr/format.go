package cerr

import (
	"encoding/json"
	"fmt"
)

// FormatForCLI renders the typed error the CLI prints on failure: one line
// with kind, human message, and (for policy/trust/lock kinds) the offending
// rule/component/artifact, plus an indented hint line when the error
// carries a suggestion.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	e, ok := err.(*Error)
	if !ok {
		e = Wrap(KindInternal, err)
	}

	line := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	switch e.Kind {
	case KindPolicyDeny:
		if rule := e.Details["rule"]; rule != "" {
			line += fmt.Sprintf(" (rule=%s)", rule)
		}
	case KindTrustViolation:
		if component := e.Details["component"]; component != "" {
			line += fmt.Sprintf(" (component=%s)", component)
		}
	case KindLockMismatch:
		if artifact := e.Details["artifact"]; artifact != "" {
			line += fmt.Sprintf(" (artifact=%s)", artifact)
		}
	}
	if e.Suggestion != "" {
		line += "\n  hint: " + e.Suggestion
	}
	return line
}

// jsonResult is the JSON output mode envelope: {ok, error:{kind,message,detail}}.
type jsonResult struct {
	OK    bool           `json:"ok"`
	Error *jsonErrorBody `json:"error,omitempty"`
}

type jsonErrorBody struct {
	Kind    string            `json:"kind"`
	Message string            `json:"message"`
	Detail  map[string]string `json:"detail,omitempty"`
}

// FormatJSON returns the {ok:false, error:{kind, message, detail}} envelope for an error,
// or {ok:true} for a nil error.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(jsonResult{OK: true})
	}
	e, ok := err.(*Error)
	if !ok {
		e = Wrap(KindInternal, err)
	}
	return json.Marshal(jsonResult{
		OK: false,
		Error: &jsonErrorBody{
			Kind:    e.Kind,
			Message: e.Message,
			Detail:  e.Details,
		},
	})
}

// LogAttrs flattens an error into slog-friendly key/value pairs.
func LogAttrs(err error) map[string]any {
	if err == nil {
		return nil
	}
	e, ok := err.(*Error)
	if !ok {
		return map[string]any{"error": err.Error()}
	}
	attrs := map[string]any{
		"error_kind": e.Kind,
		"category":   string(e.Category),
		"severity":   string(e.Severity),
		"retryable":  e.Retryable,
		"message":    e.Message,
	}
	if e.Cause != nil {
		attrs["cause"] = e.Cause.Error()
	}
	for k, v := range e.Details {
		attrs["detail_"+k] = v
	}
	return attrs
}
