package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/opentribeam/tribeam/pkg/engine"
	"github.com/opentribeam/tribeam/pkg/plan"
	"github.com/opentribeam/tribeam/pkg/stores"
	"github.com/opentribeam/tribeam/pkg/telemetry"
)

func nowUTC() time.Time { return time.Now().UTC() }

// storeRecorder persists step results and events to the run history
// store. Storage failures are logged and swallowed so history never
// interferes with the experiment.
type storeRecorder struct {
	store stores.Store
	runID string
	log   *telemetry.Logger
}

var _ engine.StepRecorder = (*storeRecorder)(nil)

func (r *storeRecorder) RecordStepResult(ctx context.Context, slice int, step plan.StepSpec, outcome engine.StepOutcome, attempts int) {
	status := stores.StepResultCompleted
	var errMsg *string
	if outcome.Kind != engine.OutcomeCompleted {
		status = stores.StepResultFailed
		if outcome.Reason != nil {
			msg := outcome.Reason.Error()
			errMsg = &msg
		}
	}

	artifacts := []byte("[]")
	if len(outcome.Artifacts) > 0 {
		if raw, err := json.Marshal(outcome.Artifacts); err == nil {
			artifacts = raw
		}
	}

	now := nowUTC()
	result := &stores.StepResult{
		ID:          uuid.New().String(),
		RunID:       r.runID,
		Slice:       slice,
		StepName:    step.Name,
		StepKind:    string(step.Kind),
		Status:      status,
		Artifacts:   string(artifacts),
		Error:       errMsg,
		Attempts:    attempts,
		StartedAt:   now,
		CompletedAt: &now,
		CreatedAt:   now,
	}
	if err := r.store.RecordStepResult(ctx, result); err != nil {
		r.log.WithError(err).Warn("Failed to record step result")
	}

	if status == stores.StepResultFailed {
		level := stores.EventLevelError
		event := &stores.Event{
			RunID:     &r.runID,
			Slice:     &slice,
			StepName:  &step.Name,
			Level:     level,
			Message:   "step failed",
			Details:   errMsg,
			Timestamp: now,
		}
		if err := r.store.AppendEvent(ctx, event); err != nil {
			r.log.WithError(err).Warn("Failed to record step event")
		}
	}
}

func (r *storeRecorder) RecordStepSkipped(ctx context.Context, slice int, step plan.StepSpec) {
	now := nowUTC()
	result := &stores.StepResult{
		ID:        uuid.New().String(),
		RunID:     r.runID,
		Slice:     slice,
		StepName:  step.Name,
		StepKind:  string(step.Kind),
		Status:    stores.StepResultSkipped,
		Artifacts: "[]",
		Attempts:  0,
		StartedAt: now,
		CreatedAt: now,
	}
	if err := r.store.RecordStepResult(ctx, result); err != nil {
		r.log.WithError(err).Warn("Failed to record skipped step")
	}
}
