package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/opentribeam/tribeam/pkg/instrument"
	"github.com/opentribeam/tribeam/pkg/plan"
	"github.com/opentribeam/tribeam/pkg/settings"
	"github.com/opentribeam/tribeam/pkg/telemetry"
)

// Executor runs a single step against the instrument and reports a
// structured outcome. It never touches the resume cursor; the sequencer
// is the single writer of persisted progress.
type Executor struct {
	mscope    *instrument.Microscope
	policy    RetryPolicy
	outputDir string
	log       *telemetry.Logger
}

// NewExecutor creates a step executor.
func NewExecutor(m *instrument.Microscope, policy RetryPolicy, outputDir string, log *telemetry.Logger) *Executor {
	return &Executor{
		mscope:    m,
		policy:    policy,
		outputDir: outputDir,
		log:       log.NewComponentLogger("executor"),
	}
}

// ArtifactPath returns where a step's image for a slice lands:
// <output_dir>/<step_name>/<slice as four digits>.tif.
func (e *Executor) ArtifactPath(stepName string, slice int) string {
	return filepath.Join(e.outputDir, stepName, fmt.Sprintf("%04d.tif", slice))
}

// Execute performs one attempt of a step on a slice.
func (e *Executor) Execute(ctx context.Context, step plan.StepSpec, slice int) StepOutcome {
	log := e.log.WithStep(step.Name).WithSlice(slice)

	var artifacts []string
	var err error
	switch step.Kind {
	case plan.KindImage:
		artifacts, err = e.runImage(ctx, *step.Image, step.Name, slice)
	case plan.KindFIB:
		artifacts, err = e.runFIB(ctx, *step.FIB, step.Name, slice)
	case plan.KindEDS, plan.KindEBSD:
		artifacts, err = e.runAnalysis(ctx, *step.Analysis, step, slice)
	case plan.KindCustom:
		err = e.runCustom(ctx, *step.Custom, slice)
	default:
		return Fatal(NewConfigurationError(
			fmt.Sprintf("unknown step kind %q", step.Kind), nil).WithStep(step.Name).WithSlice(slice))
	}

	if err != nil {
		outcome := classify(err)
		if outcome.Kind == OutcomeFatal {
			log.WithError(err).Error("Step failed fatally")
		} else {
			log.WithError(err).Warn("Step failed, may retry")
		}
		return outcome
	}
	return Completed(artifacts...)
}

// classify maps an error to a step outcome. Anything not positively known
// to be transient is fatal: blind re-execution can remove material twice.
func classify(err error) StepOutcome {
	var verr *settings.ValidationError
	if errors.As(err, &verr) {
		return Fatal(NewPermanentError("invalid settings", err).WithCode(ErrCodeValidation))
	}
	var derr *instrument.DeviceError
	if errors.As(err, &derr) {
		if derr.Kind == instrument.KindOutOfRange {
			return Fatal(NewPermanentError("setpoint outside device envelope", err).WithCode(ErrCodeDevice))
		}
		return Retryable(NewTransientError("device command failed", err).WithCode(ErrCodeDevice))
	}
	var eerr *EngineError
	if errors.As(err, &eerr) {
		if eerr.Class == ErrorClassTransient {
			return Retryable(eerr)
		}
		return Fatal(eerr)
	}
	return Fatal(NewPermanentError("step failed", err))
}

// applyVerified drives a capability until its readback satisfies the
// setpoint, bounded by the policy's apply budget. Exhaustion surfaces the
// last observed live values for diagnosis.
func applyVerified[S, L any](ctx context.Context, c instrument.Capability[S, L], s S, attempts int, what string) (L, error) {
	var live L
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		live, err = c.Apply(ctx, s)
		if err != nil {
			return live, err
		}
		if c.Validate(s, live) {
			return live, nil
		}
	}
	return live, NewInstrumentNotReadyError(
		fmt.Sprintf("%s readback never satisfied setpoint within %d attempts", what, attempts), live)
}
