// Package hotsort structured error types
package hotsort

import (
	"errors"
	"fmt"
)

// ErrorType represents categories of errors
type ErrorType int

const (
	// Target configuration inconsistent with the compiled network geometry.
	// Detected when a sorter is built, never while sorting.
	ErrTypeConfiguration ErrorType = iota
	// Caller misuse rejected before anything is dispatched
	ErrTypeUsage
	// Failures reported by the execution layer (allocation, device loss)
	ErrTypeDevice
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Op      string // Operation that failed
	Message string // Human-readable message
	Err     error  // Underlying error if any
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hotsort %s error in %s: %s (caused by: %v)",
			e.Type.String(), e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("hotsort %s error in %s: %s",
		e.Type.String(), e.Op, e.Message)
}

// Unwrap allows error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same type, operation
// and message, so that sentinels match errors that wrap a cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type && t.Op == e.Op && t.Message == e.Message
}

// String returns the error type as a string
func (t ErrorType) String() string {
	switch t {
	case ErrTypeConfiguration:
		return "Configuration"
	case ErrTypeUsage:
		return "Usage"
	case ErrTypeDevice:
		return "Device"
	default:
		return "Unknown"
	}
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(op string, message string) error {
	return &Error{
		Type:    ErrTypeConfiguration,
		Op:      op,
		Message: message,
	}
}

// NewUsageError creates a usage error
func NewUsageError(op string, message string) error {
	return &Error{
		Type:    ErrTypeUsage,
		Op:      op,
		Message: message,
	}
}

// NewDeviceError creates a device error wrapping the execution layer cause
func NewDeviceError(op string, message string, err error) error {
	return &Error{
		Type:    ErrTypeDevice,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// Common pre-defined errors

var (
	// ErrZeroCount indicates a sort of zero or negative keys
	ErrZeroCount = NewUsageError("Pad", "count must be positive")

	// ErrBufferTooSmall indicates a buffer shorter than Pad requires
	ErrBufferTooSmall = NewUsageError("Sort", "buffer smaller than padded count")

	// ErrMissingValues indicates a key-value target used without value arrays
	ErrMissingValues = NewUsageError("Sort", "target carries values but buffer has none")

	// ErrOutOfMemory indicates the device memory limit was exceeded
	ErrOutOfMemory = NewDeviceError("Malloc", "out of memory", nil)

	// ErrDeviceLost indicates a kernel aborted while running
	ErrDeviceLost = NewDeviceError("Launch", "device lost", nil)

	// ErrDeviceClosed indicates work submitted to a closed device
	ErrDeviceClosed = NewDeviceError("Launch", "device closed", nil)
)

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool {
	return hasType(err, ErrTypeConfiguration)
}

// IsUsageError checks if an error is a usage error
func IsUsageError(err error) bool {
	return hasType(err, ErrTypeUsage)
}

// IsDeviceError checks if an error is a device error
func IsDeviceError(err error) bool {
	return hasType(err, ErrTypeDevice)
}

func hasType(err error, t ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == t
	}
	return false
}

// wrapError attaches a cause to a pre-defined error while keeping
// errors.Is matching against the sentinel.
func wrapError(sentinel error, cause error) error {
	s := sentinel.(*Error)
	return &Error{
		Type:    s.Type,
		Op:      s.Op,
		Message: s.Message,
		Err:     cause,
	}
}
