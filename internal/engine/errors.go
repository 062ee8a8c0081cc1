package engine

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning signals that another execution holds the uniqueness key.
// The duplicate dispatch is a no-op.
var ErrAlreadyRunning = errors.New("job already running")

// FailureKind classifies work errors for the retry decision
type FailureKind int

const (
	// FailureRecoverable covers transient conditions (network blips,
	// upstream 5xx, timeouts) that are worth another attempt.
	FailureRecoverable FailureKind = iota
	// FailurePermanent covers validation errors and missing inputs where
	// retrying cannot help.
	FailurePermanent
)

type classifiedError struct {
	kind FailureKind
	err  error
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Recoverable marks an error as transient
func Recoverable(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{kind: FailureRecoverable, err: err}
}

// Recoverablef is a convenience formatter for transient errors
func Recoverablef(format string, args ...interface{}) error {
	return Recoverable(fmt.Errorf(format, args...))
}

// Permanent marks an error as non-retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{kind: FailurePermanent, err: err}
}

// Permanentf is a convenience formatter for non-retryable errors
func Permanentf(format string, args ...interface{}) error {
	return Permanent(fmt.Errorf(format, args...))
}

// Classify returns the failure kind for an error. Unmarked errors default
// to recoverable so unexpected infrastructure failures get their retries.
func Classify(err error) FailureKind {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.kind
	}
	return FailureRecoverable
}

// IsPermanent reports whether the error is marked non-retryable
func IsPermanent(err error) bool {
	return err != nil && Classify(err) == FailurePermanent
}
