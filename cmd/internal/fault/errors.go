// Package fault defines the gateway error taxonomy shared by every layer.
package fault

import (
	"errors"
	"fmt"
	"time"
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Msg may include human-readable context; it must never include secrets.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// Configf returns a configuration error. These are fatal at startup.
func Configf(op, format string, args ...any) error {
	return OpError{Op: op, Kind: ErrConfiguration, Msg: fmt.Sprintf(format, args...)}
}

// ValidationError carries an advisory rejection reason that is safe to show to the client.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Reject builds a ValidationError.
func Reject(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// RateLimitError carries retry metadata for throttled callers.
type RateLimitError struct {
	Identity   string
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrRateLimit.Error()
	}
	return fmt.Sprintf("%s: retry after %s", ErrRateLimit.Error(), e.RetryAfter)
}

func (e RateLimitError) Unwrap() error { return ErrRateLimit }

// ExecError reports a spawn failure or an abnormal process end.
type ExecError struct {
	Argv0 string
	Cause error
}

func (e ExecError) Error() string {
	if e.Argv0 == "" {
		return fmt.Sprintf("%v: %v", ErrExecution, e.Cause)
	}
	return fmt.Sprintf("%v: %s: %v", ErrExecution, e.Argv0, e.Cause)
}

func (e ExecError) Unwrap() []error { return []error{ErrExecution, e.Cause} }

// ReasonOf returns the client-facing reason of a validation error, or "" if err is not one.
func ReasonOf(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}

// IsConfiguration reports whether err represents ErrConfiguration.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

// IsAuthentication reports whether err represents ErrAuthentication.
func IsAuthentication(err error) bool { return errors.Is(err, ErrAuthentication) }

// IsRateLimit reports whether err represents ErrRateLimit.
func IsRateLimit(err error) bool { return errors.Is(err, ErrRateLimit) }

// IsValidation reports whether err represents ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsExecution reports whether err represents ErrExecution.
func IsExecution(err error) bool { return errors.Is(err, ErrExecution) }

// IsProtocol reports whether err represents ErrProtocol.
func IsProtocol(err error) bool { return errors.Is(err, ErrProtocol) }
