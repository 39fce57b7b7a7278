package stage

import (
	"errors"
	"fmt"
)

// Kind classifies a stage failure for the orchestrator's transition
// policy, per spec.md §7's error taxonomy.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindGeneration       Kind = "generation"
	KindCompilation      Kind = "compilation"
	KindAuditTool        Kind = "audit_tool"
	KindNetworkTransient Kind = "network_transient"
	KindNetworkFatal     Kind = "network_fatal"
	KindFeatureUnavail   Kind = "feature_unavailable"
	KindCancellation     Kind = "cancellation"
	KindInternal         Kind = "internal"
)

// Error wraps an underlying error with the Kind the orchestrator needs to
// decide whether a stage failure is fatal, retryable, or merely advisory.
type Error struct {
	Kind  Kind
	Stage Name
	err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s stage: %s: %v", e.Stage, e.Kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// NewError wraps err with a Kind and the stage it originated in.
func NewError(stage Name, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Stage: stage, err: err}
}

// KindOf extracts the Kind from err, or KindInternal if err was not
// produced by NewError.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err is classified KindNetworkTransient. The
// orchestrator runs each stage once and does not consult it, so a
// transient network failure from a stage is not retried; LLM retries
// happen inside llm.Client before an error reaches Process.
func IsRetryable(err error) bool {
	return KindOf(err) == KindNetworkTransient
}

// IsFatal reports whether err should always fail the workflow outright,
// regardless of a stage's configured non-fatal policy.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindGeneration, KindCompilation, KindNetworkFatal, KindInternal:
		return true
	default:
		return false
	}
}

// ErrCancelled is returned by Orchestrator.Run (not by any stage) when
// cancellation was observed at a stage boundary.
var ErrCancelled = errors.New("cancellation requested")
