package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opentribeam/tribeam/pkg/instrument"
	"github.com/opentribeam/tribeam/pkg/plan"
	"github.com/opentribeam/tribeam/pkg/settings"
	"github.com/opentribeam/tribeam/pkg/telemetry"
)

type testRun struct {
	plan   *plan.Plan
	drv    *instrument.SimDriver
	mscope *instrument.Microscope
	store  *CheckpointStore
	seq    *Sequencer
	dir    string
}

// newTestRun wires a sequencer over a simulated instrument. Plans reuse
// dir as their output directory so artifacts and checkpoints share the
// experiment directory, as they do in production.
func newTestRun(t *testing.T, p *plan.Plan, start Cursor) *testRun {
	t.Helper()
	drv := instrument.NewSimDriver()
	tel := telemetry.NopTelemetry()
	m := instrument.New(drv, instrument.Config{Host: "localhost", Port: 7520}, tel.Logger)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	policy := DefaultRetryPolicy()
	policy.Backoff = 0
	policy.BeamReadyDelay = 0
	exec := NewExecutor(m, policy, p.General.OutputDir, tel.Logger)
	store := NewCheckpointStore(filepath.Join(p.General.OutputDir, "run.checkpoint.json"))
	seq := NewSequencer(p, exec, m, store, nil, tel, "test-run", start)
	return &testRun{plan: p, drv: drv, mscope: m, store: store, seq: seq, dir: p.General.OutputDir}
}

func testPlan(t *testing.T, dir string, lastSlice int, steps ...plan.StepSpec) *plan.Plan {
	t.Helper()
	return &plan.Plan{
		Version: "1.0",
		General: plan.GeneralSettings{
			FirstSlice:       1,
			LastSlice:        lastSlice,
			SliceThicknessUM: 2,
			OutputDir:        dir,
			Connection:       instrument.Config{Host: "localhost", Port: 7520},
		},
		Steps: steps,
		Hash:  "testhash",
	}
}

func imageStepSpec(t *testing.T, name string) plan.StepSpec {
	t.Helper()
	img := testImageStep(t, settings.BeamElectron)
	return plan.StepSpec{Name: name, Kind: plan.KindImage, Frequency: 1, Image: &img}
}

func fibStepSpec(t *testing.T, name string) plan.StepSpec {
	t.Helper()
	fib := testFIBStep(t)
	return plan.StepSpec{Name: name, Kind: plan.KindFIB, Frequency: 1, FIB: &fib}
}

// traceStepSpec appends "<tag> <slice>" to trace.log on every execution,
// so tests can assert exactly which (slice, step) pairs ran and in what
// order.
func traceStepSpec(t *testing.T, dir, name, tag string) plan.StepSpec {
	t.Helper()
	script := filepath.Join(dir, name+".sh")
	body := "#!/bin/sh\nslice=$(sed -n 's/^slice_number: //p' slice_info.yml)\necho \"" + tag + " $slice\" >> trace.log\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return plan.StepSpec{
		Name:      name,
		Kind:      plan.KindCustom,
		Frequency: 1,
		Custom:    &plan.CustomStep{Executable: "sh", Script: script},
	}
}

func readTrace(t *testing.T, dir string) []string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(dir, "trace.log"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	return strings.Fields(strings.ReplaceAll(strings.TrimSpace(string(raw)), "\n", " "))
}

func TestRunCompletesWholePlan(t *testing.T) {
	dir := t.TempDir()
	p := testPlan(t, dir, 2, imageStepSpec(t, "capture_image"), fibStepSpec(t, "mill_pattern"))
	run := newTestRun(t, p, Cursor{Slice: 1, StepIndex: 0})

	if err := run.seq.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.seq.Status() != StatusCompleted {
		t.Errorf("status = %s, want completed", run.seq.Status())
	}

	slices, steps := run.seq.Progress()
	if slices != 2 || steps != 4 {
		t.Errorf("progress = (%d slices, %d steps), want (2, 4)", slices, steps)
	}

	for _, want := range []string{
		filepath.Join(dir, "capture_image", "0001.tif"),
		filepath.Join(dir, "mill_pattern", "0001.tif"),
		filepath.Join(dir, "capture_image", "0002.tif"),
		filepath.Join(dir, "mill_pattern", "0002.tif"),
	} {
		if _, err := os.Stat(want); err != nil {
			t.Errorf("missing artifact %s: %v", want, err)
		}
	}
	if run.drv.MillRuns() != 2 {
		t.Errorf("got %d mill runs, want 2", run.drv.MillRuns())
	}

	cp, err := run.store.Load()
	if err != nil || cp == nil {
		t.Fatalf("Load: cp=%v err=%v", cp, err)
	}
	if cp.Status != StatusCompleted {
		t.Errorf("checkpoint status = %s, want completed", cp.Status)
	}
	if want := (Cursor{Slice: 3, StepIndex: 0}); cp.Cursor != want {
		t.Errorf("checkpoint cursor = %+v, want %+v", cp.Cursor, want)
	}
}

func TestRunStrictOrdering(t *testing.T) {
	dir := t.TempDir()
	p := testPlan(t, dir, 2,
		traceStepSpec(t, dir, "first_step", "A"),
		traceStepSpec(t, dir, "second_step", "B"))
	run := newTestRun(t, p, Cursor{Slice: 1, StepIndex: 0})

	if err := run.seq.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := readTrace(t, dir)
	want := []string{"A", "1", "B", "1", "A", "2", "B", "2"}
	if len(got) != len(want) {
		t.Fatalf("trace = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("trace = %v, want %v", got, want)
		}
	}
}

func TestRunFrequencySkips(t *testing.T) {
	dir := t.TempDir()
	step := imageStepSpec(t, "sparse_image")
	step.Frequency = 2
	p := testPlan(t, dir, 3, step)
	run := newTestRun(t, p, Cursor{Slice: 1, StepIndex: 0})

	if err := run.seq.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for slice, want := range map[string]bool{"0001.tif": true, "0002.tif": false, "0003.tif": true} {
		_, err := os.Stat(filepath.Join(dir, "sparse_image", slice))
		if want && err != nil {
			t.Errorf("missing artifact for %s: %v", slice, err)
		}
		if !want && err == nil {
			t.Errorf("artifact %s must not exist, step is skipped on that slice", slice)
		}
	}
	if _, steps := run.seq.Progress(); steps != 2 {
		t.Errorf("steps done = %d, want 2", steps)
	}
}

func TestRunRetriesTransientFailure(t *testing.T) {
	dir := t.TempDir()
	p := testPlan(t, dir, 1, imageStepSpec(t, "capture_image"))
	run := newTestRun(t, p, Cursor{Slice: 1, StepIndex: 0})
	run.drv.FailOn["capture_frame"] = instrument.NewTimeoutError("frame grab timed out", nil)

	if err := run.seq.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := countCalls(run.drv, "capture_frame"); got != 2 {
		t.Errorf("got %d capture attempts, want 2", got)
	}
	if run.seq.Status() != StatusCompleted {
		t.Errorf("status = %s, want completed", run.seq.Status())
	}
}

func TestRunExhaustedRetriesAbort(t *testing.T) {
	dir := t.TempDir()
	step := imageStepSpec(t, "capture_image")
	noRetries := 0
	step.MaxRetries = &noRetries
	p := testPlan(t, dir, 1, step)
	run := newTestRun(t, p, Cursor{Slice: 1, StepIndex: 0})
	run.drv.FailOn["capture_frame"] = instrument.NewTimeoutError("frame grab timed out", nil)

	err := run.seq.Run(context.Background())
	if err == nil {
		t.Fatal("Run must surface the exhausted retry budget")
	}
	if !IsPermanent(err) {
		t.Errorf("exhaustion must escalate to a permanent error, got %v", err)
	}
	if run.seq.Status() != StatusAborted {
		t.Errorf("status = %s, want aborted", run.seq.Status())
	}
	if got := countCalls(run.drv, "capture_frame"); got != 1 {
		t.Errorf("got %d capture attempts, want 1 with a zero retry budget", got)
	}
}

func TestRunFatalAbortsWithCursorUnchanged(t *testing.T) {
	dir := t.TempDir()
	p := testPlan(t, dir, 2,
		traceStepSpec(t, dir, "capture_image", "A"),
		fibStepSpec(t, "mill_pattern"))
	run := newTestRun(t, p, Cursor{Slice: 1, StepIndex: 0})
	run.drv.FailOn["run_patterning"] = instrument.NewOutOfRangeError("beam misfire", nil)

	err := run.seq.Run(context.Background())
	if err == nil {
		t.Fatal("Run must surface the fatal error")
	}
	if run.seq.Status() != StatusAborted {
		t.Errorf("status = %s, want aborted", run.seq.Status())
	}

	cp, loadErr := run.store.Load()
	if loadErr != nil || cp == nil {
		t.Fatalf("Load: cp=%v err=%v", cp, loadErr)
	}
	if cp.Status != StatusAborted {
		t.Errorf("checkpoint status = %s, want aborted", cp.Status)
	}
	if want := (Cursor{Slice: 1, StepIndex: 1}); cp.Cursor != want {
		t.Errorf("checkpoint cursor = %+v, want %+v (the failed step)", cp.Cursor, want)
	}

	// The completed first step must survive the abort.
	if got := readTrace(t, dir); len(got) != 2 || got[0] != "A" || got[1] != "1" {
		t.Errorf("trace = %v, want [A 1]", got)
	}

	// Resume from the checkpoint with a healthy instrument. The first
	// step does not re-run on slice 1.
	resumed := newTestRun(t, p, cp.Cursor)
	if err := resumed.seq.Run(context.Background()); err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	if resumed.seq.Status() != StatusCompleted {
		t.Errorf("resumed status = %s, want completed", resumed.seq.Status())
	}

	got := readTrace(t, dir)
	want := []string{"A", "1", "A", "2"}
	if len(got) != len(want) {
		t.Fatalf("trace after resume = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("trace after resume = %v, want %v", got, want)
		}
	}
	if resumed.drv.MillRuns() != 2 {
		t.Errorf("got %d mill runs after resume, want 2", resumed.drv.MillRuns())
	}
}

func TestRunPausesAtStepBoundary(t *testing.T) {
	dir := t.TempDir()
	p := testPlan(t, dir, 2, imageStepSpec(t, "capture_image"))
	run := newTestRun(t, p, Cursor{Slice: 1, StepIndex: 0})

	tel := telemetry.NopTelemetry()
	pause, err := NewPauseController(dir, tel.Logger)
	if err != nil {
		t.Fatalf("NewPauseController: %v", err)
	}
	defer pause.Close()
	pause.Request()
	run.seq.pause = pause

	if err := run.seq.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.seq.Status() != StatusPaused {
		t.Errorf("status = %s, want paused", run.seq.Status())
	}

	cp, loadErr := run.store.Load()
	if loadErr != nil || cp == nil {
		t.Fatalf("Load: cp=%v err=%v", cp, loadErr)
	}
	if want := (Cursor{Slice: 1, StepIndex: 0}); cp.Cursor != want {
		t.Errorf("checkpoint cursor = %+v, want %+v", cp.Cursor, want)
	}
	if countCalls(run.drv, "capture_frame") != 0 {
		t.Error("no step may start after a pause request")
	}
}

func TestRunCancelPersistsPause(t *testing.T) {
	dir := t.TempDir()
	p := testPlan(t, dir, 2, imageStepSpec(t, "capture_image"))
	run := newTestRun(t, p, Cursor{Slice: 1, StepIndex: 0})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := run.seq.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.seq.Status() != StatusPaused {
		t.Errorf("status = %s, want paused", run.seq.Status())
	}
}

func TestRunCancelDuringRetryBackoffReportsCancellation(t *testing.T) {
	dir := t.TempDir()
	p := testPlan(t, dir, 1, imageStepSpec(t, "capture_image"))
	run := newTestRun(t, p, Cursor{Slice: 1, StepIndex: 0})
	run.seq.executor.policy.Backoff = time.Minute
	run.drv.FailOn["capture_frame"] = instrument.NewTimeoutError("frame grab stalled", nil)

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(50*time.Millisecond, cancel)
	defer timer.Stop()
	defer cancel()

	err := run.seq.Run(ctx)
	if err == nil {
		t.Fatal("cancellation while waiting to retry must surface an error")
	}
	ee, ok := err.(*EngineError)
	if !ok || ee.Code != ErrCodeCancelled {
		t.Fatalf("got %v, want code %s", err, ErrCodeCancelled)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error %v must wrap context.Canceled", err)
	}
	if strings.Contains(err.Error(), "budget exhausted") {
		t.Errorf("error %v misattributes cancellation to the retry budget", err)
	}
	if run.seq.Status() != StatusAborted {
		t.Errorf("status = %s, want aborted", run.seq.Status())
	}
	if got := run.seq.Cursor(); got != (Cursor{Slice: 1, StepIndex: 0}) {
		t.Errorf("cursor = %v, want the failed step unchanged", got)
	}
}

func TestRunStageFollowsSectioning(t *testing.T) {
	dir := t.TempDir()
	step := imageStepSpec(t, "capture_image")
	step.Stage = settings.StagePosition{XMM: 1, YMM: 2, ZMM: 4, RDeg: 0, TDeg: 38}
	p := testPlan(t, dir, 3, step)
	run := newTestRun(t, p, Cursor{Slice: 1, StepIndex: 0})

	if err := run.seq.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Two microns per slice: by slice 3 the stage has advanced 4 microns
	// along z from the declared position.
	got, err := run.mscope.Stage().Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := 4 + 2*2.0/1000
	if diff := got.ZMM - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("final z = %v, want %v", got.ZMM, want)
	}
}
