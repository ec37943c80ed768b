package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/opentribeam/tribeam/pkg/plan"
	"github.com/opentribeam/tribeam/pkg/settings"
)

// SliceInfoFile is written into the experiment directory before a custom
// collaborator runs, so the script knows where it is in the experiment.
// It is removed once the collaborator exits.
const SliceInfoFile = "slice_info.yml"

// sliceInfo is the handoff document for custom collaborators.
type sliceInfo struct {
	ExpDir      string `yaml:"exp_dir"`
	SliceNumber int    `yaml:"slice_number"`
}

// prepareImaging brings a beam column to a verified imaging state: beam
// ready, beam setpoint applied, scan geometry applied, detector routed.
func (e *Executor) prepareImaging(ctx context.Context, img plan.ImageStep) error {
	beam := e.mscope.Beam(img.BeamType)

	if err := beam.Ready(ctx, e.policy.BeamReadyAttempts, e.policy.BeamReadyDelay); err != nil {
		return err
	}
	if _, err := applyVerified(ctx, beam, img.Beam, e.policy.ApplyAttempts, "beam"); err != nil {
		return err
	}
	if _, err := applyVerified(ctx, beam.Scan(), img.Scan, e.policy.ApplyAttempts, "scan"); err != nil {
		return err
	}

	det := e.mscope.Detector()
	if img.Detector.AutoCB {
		if _, err := det.Apply(ctx, img.Detector); err != nil {
			return err
		}
		return det.AutoAdjust(ctx, beamDevice(img.BeamType))
	}
	if _, err := applyVerified(ctx, det, img.Detector, e.policy.ApplyAttempts, "detector"); err != nil {
		return err
	}
	return nil
}

func beamDevice(t settings.BeamType) settings.DeviceID {
	if t == settings.BeamIon {
		return settings.DeviceIonBeam
	}
	return settings.DeviceElectronBeam
}

// capture grabs a frame to the step's artifact path and post-validates
// that the file exists and is non-empty.
func (e *Executor) capture(ctx context.Context, img plan.ImageStep, stepName string, slice int) (string, error) {
	path := e.ArtifactPath(stepName, slice)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", NewPermanentError("cannot create artifact directory", err)
	}

	depth := settings.ImageSettings{Scan: img.Scan, BitDepth: img.BitDepth}.CaptureDepth()
	if err := e.mscope.Driver().CaptureFrame(ctx, beamDevice(img.BeamType), depth, path); err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", NewTransientError("captured frame missing on disk", err)
	}
	if info.Size() == 0 {
		return "", NewTransientError(fmt.Sprintf("captured frame %s is empty", path), nil)
	}
	return path, nil
}

// runImage captures a single image.
func (e *Executor) runImage(ctx context.Context, img plan.ImageStep, stepName string, slice int) ([]string, error) {
	if err := e.prepareImaging(ctx, img); err != nil {
		return nil, err
	}
	path, err := e.capture(ctx, img, stepName, slice)
	if err != nil {
		return nil, err
	}
	return []string{path}, nil
}

// runFIB captures an ion image of the surface, then runs the milling
// pattern with the mill beam setpoint. The driver blocks until the
// instrument reports pattern completion.
func (e *Executor) runFIB(ctx context.Context, fib plan.FIBStep, stepName string, slice int) ([]string, error) {
	if err := e.prepareImaging(ctx, fib.Image); err != nil {
		return nil, err
	}
	path, err := e.capture(ctx, fib.Image, stepName, slice)
	if err != nil {
		return nil, err
	}

	ion := e.mscope.IonBeam()
	if _, err := applyVerified(ctx, ion, fib.MillBeam, e.policy.ApplyAttempts, "mill beam"); err != nil {
		return nil, err
	}
	if err := e.mscope.Patterning().Mill(ctx, fib.Application, fib.Pattern); err != nil {
		return nil, err
	}
	return []string{path}, nil
}

// runAnalysis inserts the step's detector, brings the electron column to
// the acquisition state, and captures a reference frame. The map itself
// is acquired by the vendor analysis suite against this state.
func (e *Executor) runAnalysis(ctx context.Context, a plan.AnalysisStep, step plan.StepSpec, slice int) ([]string, error) {
	device := "EDS"
	if step.Kind == plan.KindEBSD {
		device = "EBSD"
	}

	if err := e.mscope.Devices().Insert(ctx, device); err != nil {
		return nil, err
	}
	if err := e.prepareImaging(ctx, a.Image); err != nil {
		return nil, err
	}
	path, err := e.capture(ctx, a.Image, step.Name, slice)
	if err != nil {
		return nil, err
	}
	return []string{path}, nil
}

// runCustom writes the slice handoff file, invokes the collaborator, and
// removes the handoff afterwards. The process exit status is the only
// success signal.
func (e *Executor) runCustom(ctx context.Context, c plan.CustomStep, slice int) error {
	infoPath := filepath.Join(e.outputDir, SliceInfoFile)
	raw, err := yaml.Marshal(sliceInfo{ExpDir: e.outputDir, SliceNumber: slice})
	if err != nil {
		return NewPermanentError("encoding slice info", err)
	}
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return NewPermanentError("cannot create experiment directory", err)
	}
	if err := os.WriteFile(infoPath, raw, 0o644); err != nil {
		return NewPermanentError("writing slice info", err)
	}
	defer os.Remove(infoPath)

	cmd := exec.CommandContext(ctx, c.Executable, c.Script)
	cmd.Dir = e.outputDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return NewPermanentError(
			fmt.Sprintf("collaborator %s %s failed: %s", c.Executable, c.Script, string(out)), err).
			WithCode(ErrCodeCollaborator)
	}
	e.log.WithSlice(slice).Debugf("Collaborator finished: %s", string(out))
	return nil
}
