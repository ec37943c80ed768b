package engine

import "fmt"

// RunStatus represents the state of a sequencer run.
type RunStatus string

const (
	// StatusIdle means the sequencer is constructed but not started.
	StatusIdle RunStatus = "idle"

	// StatusRunning means steps are being executed.
	StatusRunning RunStatus = "running"

	// StatusPaused means the run stopped at a step boundary on request
	// and can be resumed from its checkpoint.
	StatusPaused RunStatus = "paused"

	// StatusCompleted means the cursor advanced past the last step of
	// the last slice.
	StatusCompleted RunStatus = "completed"

	// StatusAborted means a step failed fatally; the checkpoint still
	// points at the failed step.
	StatusAborted RunStatus = "aborted"
)

// IsTerminal returns true if the status is a final state.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusAborted:
		return true
	default:
		return false
	}
}

// IsActive returns true if the run is still in progress.
func (s RunStatus) IsActive() bool {
	return s == StatusRunning
}

// Validate checks if the status is a known value.
func (s RunStatus) Validate() error {
	switch s {
	case StatusIdle, StatusRunning, StatusPaused, StatusCompleted, StatusAborted:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}
