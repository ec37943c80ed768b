package engine

import (
	"time"

	"github.com/opentribeam/tribeam/pkg/plan"
)

// RetryPolicy bounds how often a step is re-invoked after retryable
// failures. Budgets are tunable configuration, not hard constants; a step
// may override MaxRetries in its spec.
type RetryPolicy struct {
	// MaxRetries is how many times a step is re-invoked after its first
	// failed attempt. 0 means a single attempt.
	MaxRetries int `json:"max_retries" yaml:"max_retries" validate:"gte=0"`

	// Backoff is the fixed delay between attempts.
	Backoff time.Duration `json:"backoff" yaml:"backoff"`

	// ApplyAttempts bounds settings-application verification loops
	// inside a single step attempt.
	ApplyAttempts int `json:"apply_attempts" yaml:"apply_attempts" validate:"gte=1"`

	// BeamReadyAttempts and BeamReadyDelay bound the beam readiness
	// loop before imaging.
	BeamReadyAttempts int           `json:"beam_ready_attempts" yaml:"beam_ready_attempts" validate:"gte=1"`
	BeamReadyDelay    time.Duration `json:"beam_ready_delay" yaml:"beam_ready_delay"`
}

// DefaultRetryPolicy returns the stock policy used when the plan does not
// override it.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		Backoff:           5 * time.Second,
		ApplyAttempts:     3,
		BeamReadyAttempts: 3,
		BeamReadyDelay:    5 * time.Second,
	}
}

// RetriesFor resolves the retry budget for a step, honoring a per-step
// override.
func (p RetryPolicy) RetriesFor(step plan.StepSpec) int {
	if step.MaxRetries != nil {
		return *step.MaxRetries
	}
	return p.MaxRetries
}
