package usecase

import "fmt"

// FailureKind names one of the recoverable failures a conversation can hit.
type FailureKind string

const (
	FailureContextRead      FailureKind = "CONTEXT_READ_FAILED"
	FailureGeneration       FailureKind = "GENERATION_FAILED"
	FailureDelivery         FailureKind = "DELIVERY_FAILED"
	FailurePersistence      FailureKind = "PERSISTENCE_FAILED"
	FailureFallbackDelivery FailureKind = "FALLBACK_DELIVERY_FAILED"
)

type Error struct {
	Kind   FailureKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Kind, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Kind, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind FailureKind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Status is the user-visible outcome of one handled event.
type Status string

const (
	StatusIgnored  Status = "ignored"
	StatusReplied  Status = "replied"
	StatusFallback Status = "fallback"
)

// Result records which branch a conversation took and every failure that was
// recovered on the way. A replied result may still carry delivery or
// persistence failures.
type Result struct {
	Status   Status
	Reply    string
	Failures []*Error
}

// Failed reports whether a failure of the given kind was recorded.
func (r Result) Failed(kind FailureKind) bool {
	for _, f := range r.Failures {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

// Kinds lists the recorded failure kinds in the order they occurred.
func (r Result) Kinds() []FailureKind {
	kinds := make([]FailureKind, 0, len(r.Failures))
	for _, f := range r.Failures {
		kinds = append(kinds, f.Kind)
	}
	return kinds
}

func (r *Result) record(err *Error) {
	r.Failures = append(r.Failures, err)
}
