// Package instrument provides the capability layer over the microscope
// hardware. Each physical sub-system (beams, detectors, stage, insertable
// devices, patterning) is exposed as a capability with apply, read, and
// validate operations routed through a shared Microscope handle and a
// Driver interface that abstracts the vendor SDK.
package instrument

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a device failure for retry logic.
type ErrorKind string

const (
	// KindNotConnected indicates no live session with the instrument.
	// Retryable once the connection is reestablished.
	KindNotConnected ErrorKind = "not_connected"

	// KindCommandRejected indicates the instrument refused a command in its
	// current state. Examples: patterning busy, device interlocked.
	KindCommandRejected ErrorKind = "command_rejected"

	// KindTimeout indicates the instrument did not respond in time.
	KindTimeout ErrorKind = "timeout"

	// KindOutOfRange indicates a requested value outside the hardware's
	// physical range. Never retryable.
	KindOutOfRange ErrorKind = "out_of_range"
)

// DeviceError represents a classified instrument failure with context.
type DeviceError struct {
	// Kind is the failure classification for retry logic.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Device is the sub-system that raised the error, if applicable.
	Device string `json:"device,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	if e.Device != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (device=%s, operation=%s): %s",
			e.Kind, e.Message, e.Device, e.Operation, e.unwrapMessage())
	}
	if e.Device != "" {
		return fmt.Sprintf("[%s] %s (device=%s): %s", e.Kind, e.Message, e.Device, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *DeviceError) Unwrap() error {
	return e.Err
}

func (e *DeviceError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *DeviceError) Is(target error) bool {
	t, ok := target.(*DeviceError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewNotConnectedError creates a not-connected error.
func NewNotConnectedError(message string, err error) *DeviceError {
	return &DeviceError{Kind: KindNotConnected, Message: message, Err: err}
}

// NewCommandRejectedError creates a command-rejected error.
func NewCommandRejectedError(message string, err error) *DeviceError {
	return &DeviceError{Kind: KindCommandRejected, Message: message, Err: err}
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(message string, err error) *DeviceError {
	return &DeviceError{Kind: KindTimeout, Message: message, Err: err}
}

// NewOutOfRangeError creates an out-of-range error.
func NewOutOfRangeError(message string, err error) *DeviceError {
	return &DeviceError{Kind: KindOutOfRange, Message: message, Err: err}
}

// WithDevice adds device context to an error.
func (e *DeviceError) WithDevice(device string) *DeviceError {
	e.Device = device
	return e
}

// WithOperation adds operation context to an error.
func (e *DeviceError) WithOperation(operation string) *DeviceError {
	e.Operation = operation
	return e
}

// IsRetryable returns true if the failure may succeed on retry.
// Everything except out-of-range is retryable.
func IsRetryable(err error) bool {
	var e *DeviceError
	if errors.As(err, &e) {
		return e.Kind != KindOutOfRange
	}
	return false
}

// IsOutOfRange returns true if the error is classified as out-of-range.
func IsOutOfRange(err error) bool {
	var e *DeviceError
	if errors.As(err, &e) {
		return e.Kind == KindOutOfRange
	}
	return false
}
