package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMemory signals a required arena or scorecard was nil at the
	// start of the scoring kernel.
	ErrInvalidMemory = errors.New("invalid memory")
	// ErrBadAlloc signals a failed allocation of the scheduler, comm handle,
	// candidate PSM array, or I/O queue.
	ErrBadAlloc = errors.New("bad alloc")
	// ErrInvalidPointer signals the ready queue yielded a nil work pointer.
	ErrInvalidPointer = errors.New("invalid pointer")
	// ErrEndSignal is not a failure: it is the loop-exit status returned by
	// the consumer once all inputs have drained.
	ErrEndSignal = errors.New("end signal")

	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrInternal     = errors.New("internal error")
)

type AppError struct {
	Err      error
	Message  string
	ExitCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, exitCode int, message string) *AppError {
	return &AppError{
		Err:      sentinel,
		Message:  message,
		ExitCode: exitCode,
	}
}

func Newf(sentinel error, exitCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:      sentinel,
		Message:  fmt.Sprintf(format, args...),
		ExitCode: exitCode,
	}
}

// ExitCode maps an error to the process exit code. ErrEndSignal and nil both
// map to 0.
func ExitCode(err error) int {
	if err == nil || errors.Is(err, ErrEndSignal) {
		return 0
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.ExitCode
	}
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNotFound):
		return 2
	case errors.Is(err, ErrInvalidMemory), errors.Is(err, ErrInvalidPointer):
		return 3
	case errors.Is(err, ErrBadAlloc):
		return 4
	default:
		return 1
	}
}
