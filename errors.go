package redress

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/optout-labs/redress/verify"
)

// Sentinel errors for common engine error conditions.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrAttemptNotFound indicates the requested removal attempt does not exist.
	ErrAttemptNotFound = errors.New("attempt not found")

	// ErrFindingNotFound indicates the referenced finding does not exist.
	ErrFindingNotFound = errors.New("finding not found")

	// ErrBrokerNotFound indicates no removal spec is registered for the broker.
	ErrBrokerNotFound = errors.New("broker spec not found")

	// ErrJobNotFound indicates the requested scheduled job does not exist.
	ErrJobNotFound = errors.New("scheduled job not found")

	// ErrInvalidConfig indicates the provided configuration is invalid or incomplete.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNotAwaitingVerification indicates a verification action was applied to
	// an attempt that is not parked in the awaiting-verification state.
	ErrNotAwaitingVerification = verify.ErrNotAwaitingVerification

	// ErrEngineClosed indicates the engine has been shut down.
	ErrEngineClosed = errors.New("engine closed")
)

// Error kinds categorize errors by their type.
const (
	// KindNotFound represents errors where a resource was not found.
	KindNotFound = "not_found"

	// KindTransient represents network and timeout failures that may succeed
	// on an explicit retry. The engine never retries them automatically.
	KindTransient = "transient"

	// KindConfiguration represents malformed broker specs or missing required
	// fields; retrying cannot change the outcome.
	KindConfiguration = "configuration"

	// KindPermission represents pre-flight denials by the permission engine.
	KindPermission = "permission"

	// KindEscalation represents conditions requiring user intervention, such
	// as a CAPTCHA challenge. Escalations are parked, not failed.
	KindEscalation = "escalation"

	// KindTimeout represents operations that exceeded their bound.
	KindTimeout = "timeout"

	// KindInternal represents internal engine errors.
	KindInternal = "internal"
)

// Error is a structured error type that wraps underlying errors with
// additional context about the operation that failed and the category of
// error.
//
// Error implements the error interface and supports error unwrapping,
// making it compatible with errors.Is() and errors.As().
type Error struct {
	// Op is the operation that failed (e.g., "Dispatcher.Submit").
	Op string

	// Kind is the category of error (e.g., KindTransient).
	Kind string

	// Err is the underlying error, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap returns the underlying error for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// LogValue implements slog.LogValuer so structured logs carry the
// operation and kind as separate attributes.
func (e *Error) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("op", e.Op),
		slog.String("kind", e.Kind),
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("cause", e.Err.Error()))
	}
	return slog.GroupValue(attrs...)
}

// E constructs a structured Error.
func E(op, kind string, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf returns the Kind of err if it is (or wraps) a structured Error,
// and KindInternal otherwise.
func KindOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
