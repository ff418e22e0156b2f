// Package errs defines the error taxonomy shared by the exchange engine.
//
// Errors detectable before submission are returned synchronously and wrap one of
// the sentinels below. Errors that only surface during a transfer are reported
// through the exchange outcome and never escape a worker goroutine.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for absent listeners, absent tasks and
	// malformed urls.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIndexOutOfRange is returned by indexed collection mutators.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrQueueSaturated signals backpressure: the pool is at capacity and not yet
	// terminated. Callers should retry later or shed load.
	ErrQueueSaturated = errors.New("queue saturated")

	// ErrTransferFailed marks a transport-level failure of a single exchange.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrInvariant marks an unreachable branch. It is raised with panic.
	ErrInvariant = errors.New("internal invariant violation")

	// ErrDrainTimeout is returned when a draining pool does not finish in time.
	ErrDrainTimeout = errors.New("drain timeout")
)

// Invalid wraps ErrInvalidArgument with a formatted message.
func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// IndexOutOfRange wraps ErrIndexOutOfRange with the offending index and bound.
func IndexOutOfRange(index, size int) error {
	return fmt.Errorf("%w: index %d, size %d", ErrIndexOutOfRange, index, size)
}

// Saturated wraps ErrQueueSaturated with a reason.
func Saturated(reason string) error {
	return fmt.Errorf("%w: %s", ErrQueueSaturated, reason)
}

// Transfer wraps a transport error as ErrTransferFailed while keeping the cause
// reachable through errors.Is and errors.As.
func Transfer(cause error) error {
	if cause == nil {
		return ErrTransferFailed
	}
	return fmt.Errorf("%w: %w", ErrTransferFailed, cause)
}

// Invariant builds the panic value for an unreachable branch.
func Invariant(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}
