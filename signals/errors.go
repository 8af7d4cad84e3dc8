package signals

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrValueMismatch is the result of a Replace whose expected value did
	// not match the value at the time of the write.
	ErrValueMismatch = errors.New("signal value did not match the expected value")
	// ErrCanceled is the result of a canceled Update.
	ErrCanceled = errors.New("update canceled")
	// ErrTransactionAborted is returned by RunInTransaction when nothing was
	// committed.
	ErrTransactionAborted = errors.New("transaction aborted")
	// ErrEffectLoop is the result of a write to a signal that a running
	// effect depends on.
	ErrEffectLoop = errors.New("infinite loop detected: effect writes a signal it depends on")
)

// MissingSignalUsageError is returned when a callback was expected to read
// at least one signal but did not.
type MissingSignalUsageError struct {
	Reason string
}

func (e *MissingSignalUsageError) Error() string {
	return "Expected at least one signal value read. " + e.Reason
}

// DeniedSignalUsageError is raised when a signal is read where reads are not
// allowed, for instance inside RunDenied.
type DeniedSignalUsageError struct {
	Reason string
}

func (e *DeniedSignalUsageError) Error() string {
	return "Using signals is denied in this context. " + e.Reason
}

// UpdaterPanicError carries the value an Update updater panicked with.
type UpdaterPanicError struct {
	Value any
}

func (e *UpdaterPanicError) Error() string {
	return fmt.Sprintf("updater panicked: %v", e.Value)
}
