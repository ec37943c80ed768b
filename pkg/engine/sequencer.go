package engine

import (
	"context"
	"time"

	"github.com/opentribeam/tribeam/pkg/instrument"
	"github.com/opentribeam/tribeam/pkg/plan"
	"github.com/opentribeam/tribeam/pkg/telemetry"
)

// StepRecorder receives step results as they happen, for run history.
// Recording failures never influence the run.
type StepRecorder interface {
	RecordStepResult(ctx context.Context, slice int, step plan.StepSpec, outcome StepOutcome, attempts int)
	RecordStepSkipped(ctx context.Context, slice int, step plan.StepSpec)
}

// Sequencer iterates the plan's step list across the slice range in
// strict lexicographic (slice, step) order. It is the single writer of
// the resume cursor: the cursor is persisted after every completion,
// before the next step begins, so a crash after step N never re-executes
// step N.
type Sequencer struct {
	plan     *plan.Plan
	executor *Executor
	mscope   *instrument.Microscope
	store    *CheckpointStore
	pause    *PauseController
	tel      *telemetry.Telemetry
	log      *telemetry.Logger

	runID    string
	cursor   Cursor
	status   RunStatus
	recorder StepRecorder

	slicesDone int
	stepsDone  int
	lastErr    error
}

// NewSequencer builds a sequencer starting at the given cursor. The
// cursor must already be validated against the plan (checkpoint hash
// check, range check).
func NewSequencer(p *plan.Plan, exec *Executor, m *instrument.Microscope,
	store *CheckpointStore, pause *PauseController, tel *telemetry.Telemetry,
	runID string, start Cursor) *Sequencer {
	return &Sequencer{
		plan:     p,
		executor: exec,
		mscope:   m,
		store:    store,
		pause:    pause,
		tel:      tel,
		log:      tel.Logger.NewComponentLogger("sequencer").WithRunID(runID),
		runID:    runID,
		cursor:   start,
		status:   StatusIdle,
	}
}

// SetRecorder attaches a run history recorder. Must be called before Run.
func (s *Sequencer) SetRecorder(r StepRecorder) { s.recorder = r }

// Status returns the current run status.
func (s *Sequencer) Status() RunStatus { return s.status }

// Cursor returns the current cursor: the next step to execute.
func (s *Sequencer) Cursor() Cursor { return s.cursor }

// Progress reports slices and steps completed in this process.
func (s *Sequencer) Progress() (slices, steps int) {
	return s.slicesDone, s.stepsDone
}

// LastError returns the error that aborted the run, if any.
func (s *Sequencer) LastError() error { return s.lastErr }

// Run drives the plan to a terminal or paused state. A returned nil with
// StatusPaused means the operator can resume from the checkpoint; nil
// with StatusCompleted means the whole plan ran. Aborted runs return the
// fatal error.
func (s *Sequencer) Run(ctx context.Context) error {
	s.status = StatusRunning
	s.log.WithField("cursor", s.cursor).Info("Run starting")

	for !s.cursor.PastEnd(s.plan.General.LastSlice) {
		if paused := s.checkBoundary(ctx); paused {
			return nil
		}

		step := s.plan.Steps[s.cursor.StepIndex]
		slice := s.cursor.Slice
		s.tel.Metrics.SetCurrentSlice(slice)

		if !step.RunsOnSlice(slice) {
			s.log.WithSlice(slice).WithStep(step.Name).Debug("Step skipped by frequency")
			if s.recorder != nil {
				s.recorder.RecordStepSkipped(ctx, slice, step)
			}
			if err := s.advance(); err != nil {
				return s.abort(err)
			}
			continue
		}

		if err := s.runStep(ctx, step, slice); err != nil {
			return s.abort(err)
		}
		s.stepsDone++

		if err := s.advance(); err != nil {
			return s.abort(err)
		}
	}

	s.status = StatusCompleted
	if err := s.persist(); err != nil {
		return s.abort(err)
	}
	s.log.Info("Run completed")
	return nil
}

// checkBoundary honors pause requests and cancellation between steps.
func (s *Sequencer) checkBoundary(ctx context.Context) bool {
	if ctx.Err() == nil && (s.pause == nil || !s.pause.Requested()) {
		return false
	}
	s.status = StatusPaused
	if err := s.persist(); err != nil {
		s.log.WithError(err).Error("Failed to persist paused checkpoint")
	}
	s.log.WithField("cursor", s.cursor).Info("Run paused at step boundary")
	return true
}

// runStep executes one step with its retry budget, bracketed by device
// retraction and the slice-adjusted stage move.
func (s *Sequencer) runStep(ctx context.Context, step plan.StepSpec, slice int) error {
	log := s.log.WithSlice(slice).WithStep(step.Name)
	stepCtx, span := s.tel.Tracer.StartStepSpan(ctx, slice, step.Name, string(step.Kind))
	defer span.End()
	timer := telemetry.NewTimer()

	if err := s.position(stepCtx, step, slice); err != nil {
		telemetry.RecordError(span, err)
		s.tel.Metrics.RecordStep(string(step.Kind), "fatal", timer.Duration())
		return err
	}

	retries := s.executor.policy.RetriesFor(step)
	var outcome StepOutcome
	attempts := 0
retry:
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			log.WithField("attempt", attempt).Info("Retrying step")
			s.tel.Metrics.RecordStepRetry(string(step.Kind))
			select {
			case <-stepCtx.Done():
				outcome = Retryable(stepCtx.Err())
				break retry
			case <-time.After(s.executor.policy.Backoff):
			}
		}
		attempts++
		outcome = s.executor.Execute(stepCtx, step, slice)
		if outcome.Kind != OutcomeRetryable {
			break
		}
	}
	if s.recorder != nil {
		s.recorder.RecordStepResult(stepCtx, slice, step, outcome, attempts)
	}

	// Leave nothing inserted between steps.
	if err := s.mscope.Devices().RetractAll(stepCtx); err != nil {
		log.WithError(err).Warn("Failed to retract devices after step")
	}

	switch outcome.Kind {
	case OutcomeCompleted:
		telemetry.RecordSuccess(span)
		s.tel.Metrics.RecordStep(string(step.Kind), "completed", timer.Duration())
		log.WithField("artifacts", outcome.Artifacts).Info("Step completed")
		return nil
	case OutcomeRetryable:
		if stepCtx.Err() != nil {
			// Cancelled while waiting to retry, not out of budget.
			err := NewPermanentError("run cancelled before the step could be retried", stepCtx.Err()).
				WithCode(ErrCodeCancelled).WithSlice(slice).WithStep(step.Name)
			telemetry.RecordError(span, err)
			s.tel.Metrics.RecordStep(string(step.Kind), "cancelled", timer.Duration())
			return err
		}
		// Budget exhausted; escalate.
		err := NewPermanentError("retry budget exhausted", outcome.Reason).
			WithSlice(slice).WithStep(step.Name)
		telemetry.RecordError(span, err)
		s.tel.Metrics.RecordStep(string(step.Kind), "fatal", timer.Duration())
		return err
	default:
		err := outcome.Reason
		if ee, ok := err.(*EngineError); ok {
			ee.WithSlice(slice).WithStep(step.Name)
		}
		telemetry.RecordError(span, err)
		s.tel.Metrics.RecordStep(string(step.Kind), "fatal", timer.Duration())
		return err
	}
}

// position retracts all insertable devices and drives the stage to the
// step's slice-adjusted position, logging the pre and post positions.
func (s *Sequencer) position(ctx context.Context, step plan.StepSpec, slice int) error {
	if err := s.mscope.Devices().RetractAll(ctx); err != nil {
		return err
	}

	pre, err := s.mscope.Stage().Read(ctx)
	if err != nil {
		return err
	}
	target := step.Stage.SliceAdjusted(slice, s.plan.General.SliceThicknessUM)
	post, err := s.mscope.Stage().Apply(ctx, target)
	if err != nil {
		return err
	}
	s.log.WithSlice(slice).WithStep(step.Name).
		WithField("pre", pre).WithField("post", post).
		Debug("Stage positioned")
	return nil
}

// advance moves the cursor past the current step and persists it. A
// wrap to the next slice counts the slice as done.
func (s *Sequencer) advance() error {
	prev := s.cursor
	s.cursor = s.cursor.Next(len(s.plan.Steps))
	if s.cursor.Slice != prev.Slice {
		s.slicesDone++
	}
	return s.persist()
}

// abort transitions to Aborted with the cursor unchanged, so a resume
// re-attempts exactly the failed step.
func (s *Sequencer) abort(err error) error {
	s.status = StatusAborted
	s.lastErr = err
	if perr := s.persist(); perr != nil {
		s.log.WithError(perr).Error("Failed to persist aborted checkpoint")
	}
	s.log.WithError(err).Error("Run aborted")
	if ee, ok := err.(*EngineError); ok {
		s.tel.Metrics.RecordError(string(ee.Class))
	}
	return err
}

func (s *Sequencer) persist() error {
	return s.store.Save(Checkpoint{
		RunID:    s.runID,
		PlanHash: s.plan.Hash,
		Cursor:   s.cursor,
		Status:   s.status,
	})
}
