package errors

import (
	stdErrors "errors"
	"fmt"
)

// Kind classifies join failures so callers can decide on retries.
type Kind int

const (
	KindUnknown Kind = iota
	// UnsupportedExecutionEnvironment is raised when the environment has no broadcast primitive.
	UnsupportedExecutionEnvironment
	// ResourceExhausted is raised when the broadcast side outgrows the memory budget.
	// The data does not shrink on retry so it is never retried.
	ResourceExhausted
	// UpstreamReadFailure wraps failures reading the streamed side.
	UpstreamReadFailure
)

func (k Kind) String() string {
	switch k {
	case UnsupportedExecutionEnvironment:
		return `UnsupportedExecutionEnvironment`
	case ResourceExhausted:
		return `ResourceExhausted`
	case UpstreamReadFailure:
		return `UpstreamReadFailure`
	}

	return `Unknown`
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf(`[%s] %s`, e.Op, e.Kind)
	}

	return fmt.Sprintf(`[%s] %s: %s`, e.Op, e.Kind, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the execution engine may retry the failed task.
func (e *Error) Retryable() bool {
	return e.Kind == UpstreamReadFailure
}

// KindOf returns the kind of the first *Error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if stdErrors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
