// Package errs holds the error taxonomy shared by the supervisor, queue and
// scheduler. Callers wrap these with fmt.Errorf("...: %w") and test with errors.Is.
package errs

import "errors"

var (
	// ErrNotFound is returned when a profile, queue item or file does not exist.
	ErrNotFound = errors.New("not found")
	// ErrBusy is returned when a single-flight operation is already in progress.
	ErrBusy = errors.New("busy")
	// ErrToolFailure covers install failures, launch failures and non-zero exits.
	ErrToolFailure = errors.New("tool failure")
	// ErrIO covers install directory, write check and link failures.
	ErrIO = errors.New("io failure")
	// ErrDecrypt is returned when stored credentials cannot be decrypted.
	ErrDecrypt = errors.New("decrypt failure")
	// ErrTimeout is returned when a bounded wait expires.
	ErrTimeout = errors.New("timeout")
)

// Kind returns the taxonomy name of err, or "internal" when err does not wrap
// one of the sentinels. Used as a log attribute and metric label.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrToolFailure):
		return "tool_failure"
	case errors.Is(err, ErrIO):
		return "io"
	case errors.Is(err, ErrDecrypt):
		return "decrypt"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "internal"
	}
}
