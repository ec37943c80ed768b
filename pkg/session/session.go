// Package session orchestrates one experiment run end to end: instrument
// connection, start cursor resolution, overwrite protection, sequencing,
// and run history recording. The instrument is always disconnected when
// the session ends, whatever the outcome.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/opentribeam/tribeam/pkg/engine"
	"github.com/opentribeam/tribeam/pkg/instrument"
	"github.com/opentribeam/tribeam/pkg/plan"
	"github.com/opentribeam/tribeam/pkg/stores"
	"github.com/opentribeam/tribeam/pkg/telemetry"
)

// CheckpointFile is the resume checkpoint's name inside the experiment
// directory.
const CheckpointFile = "run.checkpoint.json"

// Options configures a session.
type Options struct {
	// PlanPath is where the plan was loaded from, recorded in history.
	PlanPath string

	// Driver speaks to the instrument.
	Driver instrument.Driver

	// Store records run history when non-nil.
	Store stores.Store

	// Confirm answers the overwrite question. Defaults to refusing.
	Confirm Confirmer

	// Policy bounds retries. Zero value means the default policy.
	Policy *engine.RetryPolicy

	// Resume continues from the checkpoint in the experiment directory.
	Resume bool

	// StartSlice and StartStep pick an explicit start cursor; zero
	// values mean the beginning of the plan. Ignored when resuming.
	StartSlice int
	StartStep  string

	// Telemetry provides logging, metrics, and tracing.
	Telemetry *telemetry.Telemetry
}

// Summary reports how a run ended.
type Summary struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`

	// Status is the terminal (or paused) run status.
	Status engine.RunStatus `json:"status"`

	// SlicesCompleted and StepsCompleted count work done in this
	// session, not across resumes.
	SlicesCompleted int `json:"slices_completed"`
	StepsCompleted  int `json:"steps_completed"`
}

// Session drives one run of a plan.
type Session struct {
	plan   *plan.Plan
	opts   Options
	mscope *instrument.Microscope
	tel    *telemetry.Telemetry
	log    *telemetry.Logger
}

// New builds a session for a validated plan.
func New(p *plan.Plan, opts Options) (*Session, error) {
	if p == nil {
		return nil, fmt.Errorf("plan is required")
	}
	if opts.Driver == nil {
		return nil, fmt.Errorf("instrument driver is required")
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.NopTelemetry()
	}
	if opts.Confirm == nil {
		opts.Confirm = TerminalConfirm{In: os.Stdin, Out: os.Stderr}
	}
	if opts.Policy == nil {
		policy := engine.DefaultRetryPolicy()
		opts.Policy = &policy
	}

	m := instrument.New(opts.Driver, p.General.Connection, opts.Telemetry.Logger)
	return &Session{
		plan:   p,
		opts:   opts,
		mscope: m,
		tel:    opts.Telemetry,
		log:    opts.Telemetry.Logger.NewComponentLogger("session"),
	}, nil
}

// Run drives the plan to a paused or terminal state. The returned error
// is the fatal error for aborted runs; paused and completed runs return
// nil.
func (s *Session) Run(ctx context.Context) (Summary, error) {
	outputDir := s.plan.General.OutputDir
	store := engine.NewCheckpointStore(filepath.Join(outputDir, CheckpointFile))

	start, err := s.resolveStart(store)
	if err != nil {
		return Summary{}, err
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("cannot create experiment directory: %w", err)
	}

	pause, err := engine.NewPauseController(outputDir, s.tel.Logger)
	if err != nil {
		return Summary{}, fmt.Errorf("cannot watch experiment directory: %w", err)
	}
	defer pause.Close()

	if err := s.mscope.Connect(ctx); err != nil {
		return Summary{}, err
	}
	defer func() {
		if err := s.mscope.Disconnect(context.Background()); err != nil {
			s.log.WithError(err).Warn("Failed to disconnect from instrument")
		}
	}()

	version, err := s.mscope.APIVersion(ctx)
	if err != nil {
		return Summary{}, err
	}
	if err := s.preFlight(ctx); err != nil {
		return Summary{}, err
	}

	runID := uuid.New().String()
	log := s.log.WithRunID(runID)
	log.WithFields(map[string]interface{}{
		"plan":        s.opts.PlanPath,
		"api_version": version,
		"cursor":      start,
	}).Info("Session starting")

	runCtx, span := s.tel.Tracer.StartRunSpan(ctx, runID)
	defer span.End()
	s.tel.Metrics.RecordRunStarted()
	timer := telemetry.NewTimer()

	s.recordRunStart(runCtx, runID)

	exec := engine.NewExecutor(s.mscope, *s.opts.Policy, outputDir, s.tel.Logger)
	seq := engine.NewSequencer(s.plan, exec, s.mscope, store, pause, s.tel, runID, start)
	if s.opts.Store != nil {
		seq.SetRecorder(&storeRecorder{store: s.opts.Store, runID: runID, log: log})
	}

	runErr := seq.Run(runCtx)
	status := seq.Status()
	slices, steps := seq.Progress()

	if runErr != nil {
		telemetry.RecordError(span, runErr)
	} else {
		telemetry.RecordSuccess(span)
	}
	s.tel.Metrics.RecordRunCompleted(string(status), timer.Duration())
	s.recordRunEnd(runCtx, runID, status, runErr)
	log.WithFields(map[string]interface{}{
		"status": status,
		"slices": slices,
		"steps":  steps,
	}).Info("Session finished")

	return Summary{
		RunID:           runID,
		Status:          status,
		SlicesCompleted: slices,
		StepsCompleted:  steps,
	}, runErr
}

// preFlight verifies the live instrument can serve every step kind in
// the plan before any material is committed: chamber at vacuum when a
// beam is needed, and analysis detectors actually fitted.
func (s *Session) preFlight(ctx context.Context) error {
	needsBeam := false
	wantDevices := map[string]bool{}
	for _, step := range s.plan.Steps {
		switch step.Kind {
		case plan.KindImage, plan.KindFIB:
			needsBeam = true
		case plan.KindEDS:
			needsBeam = true
			wantDevices["EDS"] = true
		case plan.KindEBSD:
			needsBeam = true
			wantDevices["EBSD"] = true
		}
	}

	if needsBeam {
		pumped, err := s.mscope.Driver().VacuumPumped(ctx)
		if err != nil {
			return err
		}
		if !pumped {
			return engine.NewInstrumentNotReadyError("chamber is not at operating vacuum", nil)
		}
	}

	if len(wantDevices) > 0 {
		fitted, err := s.mscope.Devices().List(ctx)
		if err != nil {
			return err
		}
		have := map[string]bool{}
		for _, name := range fitted {
			have[name] = true
		}
		for name := range wantDevices {
			if !have[name] {
				return engine.NewInstrumentNotReadyError(
					fmt.Sprintf("plan requires the %s detector but the instrument does not list it", name), nil)
			}
		}
	}
	return nil
}

// resolveStart picks the starting cursor: the checkpoint on resume, an
// explicit override, or the top of the plan with overwrite protection.
func (s *Session) resolveStart(store *engine.CheckpointStore) (engine.Cursor, error) {
	if s.opts.Resume {
		cp, err := store.Load()
		if err != nil {
			return engine.Cursor{}, err
		}
		if cp == nil {
			return engine.Cursor{}, engine.NewConfigurationError(
				fmt.Sprintf("no checkpoint at %s to resume from", store.Path()), nil)
		}
		if cp.Status == engine.StatusCompleted {
			return engine.Cursor{}, engine.NewConfigurationError(
				"checkpointed run already completed", nil)
		}
		if err := cp.ValidateAgainst(s.plan); err != nil {
			var ee *engine.EngineError
			if !errors.As(err, &ee) || ee.Code != engine.ErrCodePlanMismatch {
				return engine.Cursor{}, err
			}
			ok, cerr := s.opts.Confirm.Confirm(
				"the plan has changed since this checkpoint was written; resume anyway")
			if cerr != nil {
				return engine.Cursor{}, cerr
			}
			if !ok {
				return engine.Cursor{}, err
			}
			if err := cp.ValidateCursor(s.plan); err != nil {
				return engine.Cursor{}, err
			}
			s.log.Warn("Resuming against a modified plan on operator override")
		}
		return cp.Cursor, nil
	}

	start := engine.Cursor{Slice: s.plan.General.FirstSlice, StepIndex: 0}
	if s.opts.StartSlice > 0 {
		if s.opts.StartSlice < s.plan.General.FirstSlice || s.opts.StartSlice > s.plan.General.LastSlice {
			return engine.Cursor{}, engine.NewConfigurationError(
				fmt.Sprintf("start slice %d outside plan range %d..%d",
					s.opts.StartSlice, s.plan.General.FirstSlice, s.plan.General.LastSlice), nil)
		}
		start.Slice = s.opts.StartSlice
	}
	if s.opts.StartStep != "" {
		idx := s.plan.StepIndex(s.opts.StartStep)
		if idx < 0 {
			return engine.Cursor{}, engine.NewConfigurationError(
				fmt.Sprintf("start step %q is not in the plan", s.opts.StartStep), nil)
		}
		start.StepIndex = idx
	}

	if s.hasExistingArtifacts() {
		ok, err := s.opts.Confirm.Confirm(fmt.Sprintf(
			"experiment directory %s already contains step artifacts; continue and overwrite",
			s.plan.General.OutputDir))
		if err != nil {
			return engine.Cursor{}, err
		}
		if !ok {
			return engine.Cursor{}, engine.NewConfigurationError(
				"refusing to overwrite existing artifacts", nil)
		}
	}
	return start, nil
}

// hasExistingArtifacts reports whether any step's artifact directory is
// already populated.
func (s *Session) hasExistingArtifacts() bool {
	for _, step := range s.plan.Steps {
		entries, err := os.ReadDir(filepath.Join(s.plan.General.OutputDir, step.Name))
		if err == nil && len(entries) > 0 {
			return true
		}
	}
	return false
}

func (s *Session) recordRunStart(ctx context.Context, runID string) {
	if s.opts.Store == nil {
		return
	}
	now := nowUTC()
	metadata := fmt.Sprintf(`{"resume":%t}`, s.opts.Resume)
	run := &stores.Run{
		ID:        runID,
		PlanPath:  s.opts.PlanPath,
		PlanHash:  s.plan.Hash,
		Status:    stores.RunStatusRunning,
		StartedAt: now,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.opts.Store.CreateRun(ctx, run); err != nil {
		s.log.WithError(err).Warn("Failed to record run start")
	}
}

func (s *Session) recordRunEnd(ctx context.Context, runID string, status engine.RunStatus, runErr error) {
	if s.opts.Store == nil {
		return
	}
	var errMsg *string
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}
	if err := s.opts.Store.UpdateRunStatus(ctx, runID, stores.RunStatus(status), errMsg); err != nil {
		s.log.WithError(err).Warn("Failed to record run end")
	}

	level := stores.EventLevelInfo
	message := fmt.Sprintf("run %s", status)
	if runErr != nil {
		level = stores.EventLevelError
		message = fmt.Sprintf("run %s: %s", status, runErr)
	}
	event := &stores.Event{
		RunID:     &runID,
		Level:     level,
		Message:   message,
		Timestamp: nowUTC(),
	}
	if err := s.opts.Store.AppendEvent(ctx, event); err != nil {
		s.log.WithError(err).Warn("Failed to record run event")
	}
}
