// Package engine drives an experiment plan against the instrument: it
// sequences steps across slices, executes them with bounded retries,
// persists the resume cursor, and owns the run state machine.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed
	// on retry. Examples: device timeouts, rejected commands while the
	// instrument settles.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: malformed plan, setpoint outside the device envelope,
	// tolerance never satisfied within the retry budget.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with run context.
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Slice is the slice being worked when the error occurred, if any.
	Slice int `json:"slice,omitempty"`

	// Step is the step being worked when the error occurred, if any.
	Step string `json:"step,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information, such as
	// the last observed live readback when a tolerance was never met.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] %s (slice=%d, step=%s): %s",
			e.Class, e.Message, e.Slice, e.Step, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewConfigurationError creates a permanent error for a malformed plan or
// step.
func NewConfigurationError(message string, err error) *EngineError {
	return NewPermanentError(message, err).WithCode(ErrCodeConfiguration)
}

// NewInstrumentNotReadyError creates a permanent error for a tolerance
// that was never satisfied within the retry budget. The last observed
// live values travel in Details for diagnosis.
func NewInstrumentNotReadyError(message string, lastObserved interface{}) *EngineError {
	e := NewPermanentError(message, nil).WithCode(ErrCodeInstrumentNotReady)
	return e.WithDetail("last_observed", lastObserved)
}

// NewPlanMismatchError creates a permanent error for a resume attempt
// against a plan that changed since the checkpoint was written.
func NewPlanMismatchError(wantHash, gotHash string) *EngineError {
	e := NewPermanentError("plan file changed since checkpoint was written", nil).
		WithCode(ErrCodePlanMismatch)
	return e.WithDetail("checkpoint_hash", wantHash).WithDetail("plan_hash", gotHash)
}

// WithSlice adds slice context to an error.
func (e *EngineError) WithSlice(slice int) *EngineError {
	e.Slice = slice
	return e
}

// WithStep adds step context to an error.
func (e *EngineError) WithStep(step string) *EngineError {
	e.Step = step
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// Common error codes.
const (
	ErrCodeConfiguration      = "CONFIGURATION_ERROR"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeInstrumentNotReady = "INSTRUMENT_NOT_READY"
	ErrCodePlanMismatch       = "PLAN_MISMATCH"
	ErrCodeDevice             = "DEVICE_ERROR"
	ErrCodeCollaborator       = "COLLABORATOR_FAILED"
	ErrCodeCancelled          = "RUN_CANCELLED"
)
