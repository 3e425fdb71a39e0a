// Package errors defines the error taxonomy the driver surfaces to its
// callers. Every error the core packages return is one of the sentinels
// below, optionally annotated with WithMessage or wrapping an underlying
// cause with Wrap.
package errors

import "fmt"

// FSError is a sentinel error type: a bare string that implements the error
// interface directly so it can be compared with == or errors.Is without
// allocating.
type FSError string

const (
	// ErrNoSuchEntry means path resolution failed to find a component.
	ErrNoSuchEntry = FSError("no such file or directory")
	// ErrNotADirectory means a non-final path component, or the target of an
	// operation that requires a directory, was a regular file.
	ErrNotADirectory = FSError("not a directory")
	// ErrNotEmpty means rmdir was attempted on a directory containing
	// entries other than the reserved "." and "..".
	ErrNotEmpty = FSError("directory not empty")
	// ErrPermissionDenied means a write was attempted against an entry
	// whose read-only attribute bit is set.
	ErrPermissionDenied = FSError("permission denied")
	// ErrInvalidArgument means a seek target or whence value was out of
	// range.
	ErrInvalidArgument = FSError("invalid argument")
	// ErrEndOfFile means a read or write could not establish a valid
	// position, or a seek landed outside the file.
	ErrEndOfFile = FSError("end of file")
	// ErrCorruptVolume means mount-time FSInfo magic validation failed.
	ErrCorruptVolume = FSError("corrupt volume")
	// ErrOutOfSpace means the allocator was invoked with no free clusters
	// remaining in the free-space map.
	ErrOutOfSpace = FSError("no space left on device")
	// ErrIOFailed means the underlying positioned read or write against the
	// block device failed.
	ErrIOFailed = FSError("input/output error")
)

// Error implements the error interface.
func (e FSError) Error() string {
	return string(e)
}

// WithMessage attaches additional context to the sentinel. The result still
// satisfies errors.Is against e.
func (e FSError) WithMessage(message string) error {
	return &annotatedError{
		message: fmt.Sprintf("%s: %s", string(e), message),
		cause:   e,
	}
}

// Wrap attaches an underlying error as the cause of the sentinel, preserving
// both messages and letting errors.As reach err.
func (e FSError) Wrap(err error) error {
	return &annotatedError{
		message: fmt.Sprintf("%s: %s", string(e), err.Error()),
		cause:   e,
		wrapped: err,
	}
}

// annotatedError carries a formatted message while still unwrapping to the
// original FSError sentinel (and optionally a wrapped cause), so
// errors.Is(err, errors.ErrNoSuchEntry) keeps working after annotation.
type annotatedError struct {
	message string
	cause   FSError
	wrapped error
}

func (e *annotatedError) Error() string {
	return e.message
}

// Is lets errors.Is match against the underlying sentinel directly.
func (e *annotatedError) Is(target error) bool {
	return e.cause == target
}

// Unwrap exposes the wrapped cause, if any.
func (e *annotatedError) Unwrap() error {
	if e.wrapped != nil {
		return e.wrapped
	}
	return e.cause
}
