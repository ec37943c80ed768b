// Package settings defines the immutable, validated value objects that
// describe desired instrument state: beams, detectors, scans, resolutions,
// and the tolerance rules used to decide whether a live readback is close
// enough to a setpoint. All constraint checking happens once, at
// construction; a settings value that exists is a settings value that is
// valid.
package settings

import "fmt"

// Limit is an inclusive-capable value range used for envelope checks.
type Limit struct {
	// Min is the lower bound of the range.
	Min float64

	// Max is the upper bound of the range.
	Max float64
}

// IntervalType selects which endpoints of a Limit are included.
type IntervalType string

const (
	// IntervalOpen is the fully-open interval (min, max).
	IntervalOpen IntervalType = "open"

	// IntervalClosed is the fully-closed interval [min, max].
	IntervalClosed IntervalType = "closed"

	// IntervalLeftOpen is the half-open interval (min, max].
	IntervalLeftOpen IntervalType = "left_open"

	// IntervalRightOpen is the half-open interval [min, max).
	IntervalRightOpen IntervalType = "right_open"
)

// InInterval reports whether val lies within limit under the given
// interval type.
func InInterval(val float64, limit Limit, typ IntervalType) bool {
	switch typ {
	case IntervalOpen:
		return val > limit.Min && val < limit.Max
	case IntervalClosed:
		return val >= limit.Min && val <= limit.Max
	case IntervalLeftOpen:
		return val > limit.Min && val <= limit.Max
	case IntervalRightOpen:
		return val >= limit.Min && val < limit.Max
	default:
		return false
	}
}

// WithinTolerance reports whether a live reading is acceptably close to a
// setpoint: accepted iff |live - setpoint| <= tol. Composite settings
// apply this rule independently per scalar field; there is no aggregate
// weighting.
func WithinTolerance(setpoint, live, tol float64) bool {
	diff := live - setpoint
	if diff < 0 {
		diff = -diff
	}
	return diff <= tol
}

// ValidationError reports a constraint violation detected while
// constructing a settings value. It is permanent: a malformed value is
// never retried.
type ValidationError struct {
	// Field is the settings field that violated its constraint.
	Field string

	// Message describes the violated constraint.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid settings: %s", e.Message)
	}
	return fmt.Sprintf("invalid settings: %s: %s", e.Field, e.Message)
}

func validationErrorf(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
