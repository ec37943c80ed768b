package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opentribeam/tribeam/pkg/engine"
	"github.com/opentribeam/tribeam/pkg/instrument"
	"github.com/opentribeam/tribeam/pkg/plan"
	"github.com/opentribeam/tribeam/pkg/settings"
	"github.com/opentribeam/tribeam/pkg/stores"
)

// fakeConfirmer records the question and returns a canned answer.
type fakeConfirmer struct {
	answer   bool
	question string
	asked    int
}

func (f *fakeConfirmer) Confirm(question string) (bool, error) {
	f.asked++
	f.question = question
	return f.answer, nil
}

func testPlan(t *testing.T, dir string, lastSlice int) *plan.Plan {
	t.Helper()
	res, err := settings.ParseResolution("768x512")
	if err != nil {
		t.Fatalf("ParseResolution: %v", err)
	}
	det, err := settings.NewDetector(settings.DetectorETD, settings.ModeSecondaryElectrons, 0.4, 0.6)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	scan, err := settings.NewScan(0, 1, res)
	if err != nil {
		t.Fatalf("NewScan: %v", err)
	}
	img := plan.ImageStep{
		BeamType: settings.BeamElectron,
		Beam: settings.BeamSettings{
			VoltageKV: 30, VoltageTolKV: 1.5,
			CurrentNA: 10, CurrentTolNA: 0.5,
			HFWMM: 0.9, WorkingDistMM: 4.093,
		},
		Detector: det,
		Scan:     scan,
		BitDepth: settings.Bits8,
	}
	return &plan.Plan{
		Version: "1.0",
		General: plan.GeneralSettings{
			FirstSlice:       1,
			LastSlice:        lastSlice,
			SliceThicknessUM: 2,
			OutputDir:        dir,
			Connection:       instrument.Config{Host: "localhost", Port: 7520},
		},
		Steps: []plan.StepSpec{
			{Name: "capture_image", Kind: plan.KindImage, Frequency: 1, Image: &img},
		},
		Hash: "testhash",
	}
}

func newHistoryStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSessionRunCompletes(t *testing.T) {
	dir := t.TempDir()
	p := testPlan(t, dir, 2)
	drv := instrument.NewSimDriver()

	sess, err := New(p, Options{
		PlanPath: "/plans/test.yml",
		Driver:   drv,
		Confirm:  &fakeConfirmer{answer: true},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	summary, err := sess.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Status != engine.StatusCompleted {
		t.Errorf("status = %s, want completed", summary.Status)
	}
	if summary.SlicesCompleted != 2 || summary.StepsCompleted != 2 {
		t.Errorf("summary = %+v, want 2 slices 2 steps", summary)
	}
	if summary.RunID == "" {
		t.Error("summary must carry a run ID")
	}
	if drv.Connected() {
		t.Error("instrument must be disconnected after the session")
	}
}

func TestSessionPreFlightRejectsVentedChamber(t *testing.T) {
	dir := t.TempDir()
	p := testPlan(t, dir, 2)
	drv := instrument.NewSimDriver()
	drv.SetPumped(false)

	sess, err := New(p, Options{Driver: drv, Confirm: &fakeConfirmer{answer: true}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = sess.Run(context.Background())
	if err == nil {
		t.Fatal("run against a vented chamber must fail before any step")
	}
	if !strings.Contains(err.Error(), "vacuum") {
		t.Errorf("error = %v, want vacuum pre-flight failure", err)
	}
	if countCaptures(t, drv) != 0 {
		t.Error("no frame may be captured when pre-flight fails")
	}
	if drv.Connected() {
		t.Error("instrument must be disconnected after pre-flight failure")
	}
}

func countCaptures(t *testing.T, drv *instrument.SimDriver) int {
	t.Helper()
	n := 0
	for _, call := range drv.Calls {
		if call == "capture_frame" {
			n++
		}
	}
	return n
}

func TestSessionDisconnectsOnAbort(t *testing.T) {
	dir := t.TempDir()
	p := testPlan(t, dir, 2)
	drv := instrument.NewSimDriver()
	drv.FailOn["capture_frame"] = instrument.NewOutOfRangeError("detector saturated", nil)

	sess, err := New(p, Options{Driver: drv, Confirm: &fakeConfirmer{answer: true}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	summary, err := sess.Run(context.Background())
	if err == nil {
		t.Fatal("Run must surface the fatal error")
	}
	if summary.Status != engine.StatusAborted {
		t.Errorf("status = %s, want aborted", summary.Status)
	}
	if drv.Connected() {
		t.Error("instrument must be disconnected after an abort")
	}
}

func TestSessionOverwriteProtection(t *testing.T) {
	dir := t.TempDir()
	p := testPlan(t, dir, 1)

	// A prior run left an artifact behind.
	if err := os.MkdirAll(filepath.Join(dir, "capture_image"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "capture_image", "0001.tif"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	confirm := &fakeConfirmer{answer: false}
	sess, err := New(p, Options{Driver: instrument.NewSimDriver(), Confirm: confirm})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := sess.Run(context.Background()); err == nil {
		t.Fatal("declined overwrite must stop the session")
	}
	if confirm.asked != 1 {
		t.Errorf("asked %d times, want 1", confirm.asked)
	}
	if !strings.Contains(confirm.question, dir) {
		t.Errorf("question must name the directory: %q", confirm.question)
	}

	// Accepting the same question lets the run proceed.
	confirm2 := &fakeConfirmer{answer: true}
	sess2, err := New(p, Options{Driver: instrument.NewSimDriver(), Confirm: confirm2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := sess2.Run(context.Background()); err != nil {
		t.Fatalf("Run after confirm: %v", err)
	}
}

func TestSessionFreshRunNeedsNoConfirmation(t *testing.T) {
	dir := t.TempDir()
	p := testPlan(t, dir, 1)
	confirm := &fakeConfirmer{answer: false}

	sess, err := New(p, Options{Driver: instrument.NewSimDriver(), Confirm: confirm})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := sess.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if confirm.asked != 0 {
		t.Errorf("clean directory must not prompt, asked %d times", confirm.asked)
	}
}

func TestSessionResume(t *testing.T) {
	dir := t.TempDir()
	p := testPlan(t, dir, 2)

	// Simulate an interrupted run: checkpoint points at slice 2.
	store := engine.NewCheckpointStore(filepath.Join(dir, CheckpointFile))
	cp := engine.Checkpoint{
		RunID:    "earlier-run",
		PlanHash: p.Hash,
		Cursor:   engine.Cursor{Slice: 2, StepIndex: 0},
		Status:   engine.StatusPaused,
	}
	if err := store.Save(cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	sess, err := New(p, Options{Driver: instrument.NewSimDriver(), Resume: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	summary, err := sess.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Status != engine.StatusCompleted {
		t.Errorf("status = %s, want completed", summary.Status)
	}
	if summary.StepsCompleted != 1 {
		t.Errorf("resume must run only the remaining step, got %d", summary.StepsCompleted)
	}
	if _, err := os.Stat(filepath.Join(dir, "capture_image", "0001.tif")); !os.IsNotExist(err) {
		t.Error("resume must not re-run completed slices")
	}
}

func TestSessionResumeRejectsEditedPlan(t *testing.T) {
	dir := t.TempDir()
	p := testPlan(t, dir, 2)

	store := engine.NewCheckpointStore(filepath.Join(dir, CheckpointFile))
	cp := engine.Checkpoint{
		RunID:    "earlier-run",
		PlanHash: "a-different-hash",
		Cursor:   engine.Cursor{Slice: 2, StepIndex: 0},
		Status:   engine.StatusPaused,
	}
	if err := store.Save(cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	confirm := &fakeConfirmer{answer: false}
	sess, err := New(p, Options{Driver: instrument.NewSimDriver(), Resume: true, Confirm: confirm})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = sess.Run(context.Background())
	if err == nil {
		t.Fatal("resume against an edited plan must fail when the operator declines")
	}
	ee, ok := err.(*engine.EngineError)
	if !ok || ee.Code != engine.ErrCodePlanMismatch {
		t.Errorf("got %v, want code %s", err, engine.ErrCodePlanMismatch)
	}
	if confirm.asked != 1 {
		t.Errorf("asked = %d, want the override question once", confirm.asked)
	}
}

func TestSessionResumeOverridesEditedPlan(t *testing.T) {
	dir := t.TempDir()
	p := testPlan(t, dir, 2)

	store := engine.NewCheckpointStore(filepath.Join(dir, CheckpointFile))
	cp := engine.Checkpoint{
		RunID:    "earlier-run",
		PlanHash: "a-different-hash",
		Cursor:   engine.Cursor{Slice: 2, StepIndex: 0},
		Status:   engine.StatusPaused,
	}
	if err := store.Save(cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	sess, err := New(p, Options{
		Driver:  instrument.NewSimDriver(),
		Resume:  true,
		Confirm: &fakeConfirmer{answer: true},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	summary, err := sess.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Status != engine.StatusCompleted || summary.StepsCompleted != 1 {
		t.Errorf("summary = %+v, want 1 step completed from the checkpoint", summary)
	}
}

func TestSessionResumeOverrideRejectsOutOfRangeCursor(t *testing.T) {
	dir := t.TempDir()
	p := testPlan(t, dir, 2)

	// Checkpoint written by a longer plan: step index 3 does not exist
	// in the current single-step plan.
	store := engine.NewCheckpointStore(filepath.Join(dir, CheckpointFile))
	cp := engine.Checkpoint{
		RunID:    "earlier-run",
		PlanHash: "a-different-hash",
		Cursor:   engine.Cursor{Slice: 1, StepIndex: 3},
		Status:   engine.StatusPaused,
	}
	if err := store.Save(cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	sess, err := New(p, Options{
		Driver:  instrument.NewSimDriver(),
		Resume:  true,
		Confirm: &fakeConfirmer{answer: true},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = sess.Run(context.Background())
	if err == nil {
		t.Fatal("override onto a missing step must fail, not run")
	}
	ee, ok := err.(*engine.EngineError)
	if !ok || ee.Code != engine.ErrCodeConfiguration {
		t.Errorf("got %v, want code %s", err, engine.ErrCodeConfiguration)
	}
}

func TestSessionResumeWithoutCheckpoint(t *testing.T) {
	dir := t.TempDir()
	p := testPlan(t, dir, 1)

	sess, err := New(p, Options{Driver: instrument.NewSimDriver(), Resume: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := sess.Run(context.Background()); err == nil {
		t.Fatal("resume without a checkpoint must fail")
	}
}

func TestSessionStartOverrides(t *testing.T) {
	dir := t.TempDir()
	p := testPlan(t, dir, 3)

	sess, err := New(p, Options{
		Driver:     instrument.NewSimDriver(),
		Confirm:    &fakeConfirmer{answer: true},
		StartSlice: 3,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	summary, err := sess.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.StepsCompleted != 1 {
		t.Errorf("start at slice 3 of 3 must run 1 step, got %d", summary.StepsCompleted)
	}

	bad, err := New(p, Options{
		Driver:     instrument.NewSimDriver(),
		Confirm:    &fakeConfirmer{answer: true},
		StartSlice: 9,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := bad.Run(context.Background()); err == nil {
		t.Fatal("start slice outside the plan must fail")
	}
}

func TestSessionRecordsHistory(t *testing.T) {
	dir := t.TempDir()
	p := testPlan(t, dir, 2)
	history := newHistoryStore(t)

	sess, err := New(p, Options{
		PlanPath: "/plans/test.yml",
		Driver:   instrument.NewSimDriver(),
		Store:    history,
		Confirm:  &fakeConfirmer{answer: true},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	summary, err := sess.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	ctx := context.Background()
	run, err := history.GetRun(ctx, summary.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != stores.RunStatusCompleted {
		t.Errorf("recorded status = %s, want completed", run.Status)
	}
	if run.PlanHash != p.Hash {
		t.Errorf("recorded hash = %s, want %s", run.PlanHash, p.Hash)
	}

	results, err := history.ListStepResults(ctx, summary.RunID)
	if err != nil {
		t.Fatalf("ListStepResults: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("recorded %d step results, want 2", len(results))
	}
	for _, r := range results {
		if r.Status != stores.StepResultCompleted {
			t.Errorf("step result %s/%d = %s, want completed", r.StepName, r.Slice, r.Status)
		}
		if !strings.Contains(r.Artifacts, ".tif") {
			t.Errorf("step result must record artifacts, got %s", r.Artifacts)
		}
	}
}
