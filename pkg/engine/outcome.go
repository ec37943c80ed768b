package engine

// OutcomeKind classifies the result of one step execution attempt.
type OutcomeKind string

const (
	// OutcomeCompleted means the step finished and post-validation
	// passed.
	OutcomeCompleted OutcomeKind = "completed"

	// OutcomeRetryable means the step failed in a way that may succeed
	// if the same step is re-invoked.
	OutcomeRetryable OutcomeKind = "retryable"

	// OutcomeFatal means the step cannot succeed; the run must abort
	// with the cursor unchanged.
	OutcomeFatal OutcomeKind = "fatal"
)

// StepOutcome is the structured result of one step execution attempt.
type StepOutcome struct {
	// Kind classifies the result.
	Kind OutcomeKind `json:"kind"`

	// Artifacts are the paths produced by a completed step, if any.
	Artifacts []string `json:"artifacts,omitempty"`

	// Reason carries the failure for retryable and fatal outcomes.
	Reason error `json:"-"`
}

// Completed builds a successful outcome with the produced artifacts.
func Completed(artifacts ...string) StepOutcome {
	return StepOutcome{Kind: OutcomeCompleted, Artifacts: artifacts}
}

// Retryable builds an outcome for a failure worth re-invoking.
func Retryable(reason error) StepOutcome {
	return StepOutcome{Kind: OutcomeRetryable, Reason: reason}
}

// Fatal builds an outcome for an unrecoverable failure.
func Fatal(reason error) StepOutcome {
	return StepOutcome{Kind: OutcomeFatal, Reason: reason}
}
