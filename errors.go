// Package seqrt error kinds, per spec §7: structural/fatal errors refuse
// startup, operation errors are recoverable and returned to the caller as an
// OperationError carrying the provider's status/severity (the channel's
// recorded status is updated only by successful operations and callbacks,
// and the failure is not logged), and queue overflow never propagates (it
// only increments a counter). There is no cross-fiber exception unwinding.
package seqrt

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrMagicMismatch is returned when a Descriptor's magic number does not
	// match the runtime's expected ABI version (spec §6).
	ErrMagicMismatch = errors.New("seqrt: compiler descriptor magic number mismatch")

	// ErrQueueOverflow names the queue-overflow condition. No code path
	// returns it: RingQueue.Put reports overflow through its full result,
	// and the queue-backed sync layer only counts the drop.
	ErrQueueOverflow = errors.New("seqrt: ring queue overflow")

	// ErrChannelUnassigned is returned by operations attempted on a channel
	// that has never been successfully assign()'d.
	ErrChannelUnassigned = errors.New("seqrt: channel not assigned")

	// ErrProgramStopped names the stopped-program condition. No operation
	// in this package returns it; operations on a Program are not checked
	// against its Supervisor's shutdown.
	ErrProgramStopped = errors.New("seqrt: program is stopped")

	// ErrTimeout is wrapped by OperationError when a synchronous pvGet/pvPut
	// exceeds its deadline.
	ErrTimeout = errors.New("seqrt: pv operation timed out")

	// ErrUnknownPVSystem is returned when a program's pvsys macro names a
	// provider that was never registered via RegisterPVProvider.
	ErrUnknownPVSystem = errors.New("seqrt: unknown PV provider system")
)

// StructuralError is a fatal, refuse-to-start error (spec §7): magic
// mismatch or out-of-memory during table initialization. Seq returns it to
// the caller without logging it; the program is not started.
type StructuralError struct {
	Program string
	Cause   error
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("seqrt: program %q failed to start: %v", e.Program, e.Cause)
}

func (e *StructuralError) Unwrap() error { return e.Cause }

// OperationError wraps a recoverable pvGet/pvPut failure: a timeout or a
// non-OK status/severity pair reported by the PV provider. The caller (a
// transition body) proceeds; nothing unwinds.
type OperationError struct {
	Channel  string
	Status   int
	Severity int
	Cause    error
}

func (e *OperationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("seqrt: channel %q operation failed (status=%d severity=%d): %v", e.Channel, e.Status, e.Severity, e.Cause)
	}
	return fmt.Sprintf("seqrt: channel %q operation failed (status=%d severity=%d)", e.Channel, e.Status, e.Severity)
}

func (e *OperationError) Unwrap() error { return e.Cause }

// Is reports whether target is also an *OperationError, ignoring the
// carried status/severity/channel, so errors.Is(err, &OperationError{})
// reports "some operation error occurred" without pinning down which
// channel.
func (e *OperationError) Is(target error) bool {
	_, ok := target.(*OperationError)
	return ok
}

// ConnectionLostError marks a channel transitioning from connected to
// disconnected: connectCount is decremented, monitor values become stale,
// and state sets observe this via Channel.Connected() / Channel.Status().
type ConnectionLostError struct {
	Channel string
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("seqrt: channel %q lost its PV connection", e.Channel)
}

// WrapError wraps an error with a message, preserving the cause chain for
// errors.Is/errors.As.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
