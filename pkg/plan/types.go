// Package plan defines the experiment plan model: the declarative
// description of what to do on every slice, loaded from a YAML file and
// validated before any hardware is touched.
package plan

import (
	"fmt"

	"github.com/opentribeam/tribeam/pkg/instrument"
	"github.com/opentribeam/tribeam/pkg/settings"
)

// StepKind identifies what a step does.
type StepKind string

const (
	// KindImage captures an image with either beam.
	KindImage StepKind = "image"

	// KindFIB captures an ion image and runs a milling pattern.
	KindFIB StepKind = "fib"

	// KindEDS inserts the EDS detector and captures a map via the
	// vendor analysis suite.
	KindEDS StepKind = "eds"

	// KindEBSD inserts the EBSD detector and captures a map via the
	// vendor analysis suite.
	KindEBSD StepKind = "ebsd"

	// KindCustom invokes an external collaborator script.
	KindCustom StepKind = "custom"
)

// Validate checks that the kind is known.
func (k StepKind) Validate() error {
	switch k {
	case KindImage, KindFIB, KindEDS, KindEBSD, KindCustom:
		return nil
	default:
		return fmt.Errorf("unknown step kind %q", k)
	}
}

// ImageStep configures a single image capture.
type ImageStep struct {
	// BeamType selects the imaging beam (electron or ion).
	BeamType settings.BeamType `json:"beam_type" yaml:"beam_type" validate:"required,oneof=electron ion"`

	// Beam is the beam setpoint.
	Beam settings.BeamSettings `json:"beam" yaml:"beam" validate:"required"`

	// Detector is the detector routing and levels.
	Detector settings.Detector `json:"detector" yaml:"detector" validate:"required"`

	// Scan is the scan geometry.
	Scan settings.Scan `json:"scan" yaml:"scan" validate:"required"`

	// BitDepth is the grayscale depth of the captured image.
	BitDepth settings.ColorDepth `json:"bit_depth" yaml:"bit_depth" validate:"required"`
}

// Validate checks the image configuration including cross-field rules.
func (s ImageStep) Validate() error {
	img := settings.ImageSettings{
		Detector: s.Detector,
		Scan:     s.Scan,
		BitDepth: s.BitDepth,
	}
	beam, err := settings.NewBeam(s.BeamType, s.Beam)
	if err != nil {
		return err
	}
	img.Beam = beam
	return img.Validate()
}

// FIBStep configures an ion image followed by a milling run.
type FIBStep struct {
	// Image is the ion image captured before milling, used to place the
	// pattern and record the pre-mill surface.
	Image ImageStep `json:"image" yaml:"image" validate:"required"`

	// MillBeam is the ion beam setpoint used for the mill itself.
	MillBeam settings.BeamSettings `json:"mill_beam" yaml:"mill_beam" validate:"required"`

	// Application is the vendor patterning application file name.
	Application string `json:"application" yaml:"application" validate:"required"`

	// Pattern is the milling geometry.
	Pattern instrument.Pattern `json:"pattern" yaml:"pattern" validate:"required"`
}

// Validate checks the FIB configuration.
func (s FIBStep) Validate() error {
	if err := s.Image.Validate(); err != nil {
		return err
	}
	if s.Image.BeamType != settings.BeamIon {
		return fmt.Errorf("fib imaging beam must be ion, got %q", s.Image.BeamType)
	}
	if err := s.MillBeam.Validate(settings.BeamIon); err != nil {
		return err
	}
	if s.Application == "" {
		return fmt.Errorf("fib application file is required")
	}
	return s.Pattern.Validate()
}

// AnalysisStep configures an EDS or EBSD acquisition. The detector is
// inserted for the duration of the step and the map itself is driven by
// the vendor analysis suite; this step supplies the beam and scan state
// the suite acquires under.
type AnalysisStep struct {
	// Image is the beam, detector, and scan state for the acquisition.
	Image ImageStep `json:"image" yaml:"image" validate:"required"`
}

// Validate checks the analysis configuration.
func (s AnalysisStep) Validate() error {
	if err := s.Image.Validate(); err != nil {
		return err
	}
	if s.Image.BeamType != settings.BeamElectron {
		return fmt.Errorf("analysis beam must be electron, got %q", s.Image.BeamType)
	}
	return nil
}

// CustomStep configures an external collaborator invocation.
type CustomStep struct {
	// Executable is the interpreter or binary to run.
	Executable string `json:"executable" yaml:"executable" validate:"required"`

	// Script is the path passed as the executable's single argument.
	Script string `json:"script" yaml:"script" validate:"required"`
}

// Validate checks the custom configuration.
func (s CustomStep) Validate() error {
	if s.Executable == "" {
		return fmt.Errorf("custom step executable is required")
	}
	if s.Script == "" {
		return fmt.Errorf("custom step script is required")
	}
	return nil
}

// StepSpec is one declared unit of work, applied once per eligible slice.
type StepSpec struct {
	// Name is the step's unique name; artifacts land under a directory
	// with this name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Kind selects the handler.
	Kind StepKind `json:"kind" yaml:"kind" validate:"required"`

	// Frequency runs the step only on slices where (slice-1) is a
	// multiple of it. 1 means every slice.
	Frequency int `json:"frequency" yaml:"frequency" validate:"gte=1"`

	// Stage is the stage position the sequencer drives to before the
	// step, adjusted per slice along the sectioning axis.
	Stage settings.StagePosition `json:"stage" yaml:"stage"`

	// MaxRetries overrides the engine retry budget for this step when
	// non-nil.
	MaxRetries *int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`

	// Exactly one of the following matches Kind.
	Image    *ImageStep    `json:"image,omitempty" yaml:"image,omitempty"`
	FIB      *FIBStep      `json:"fib,omitempty" yaml:"fib,omitempty"`
	Analysis *AnalysisStep `json:"analysis,omitempty" yaml:"analysis,omitempty"`
	Custom   *CustomStep   `json:"custom,omitempty" yaml:"custom,omitempty"`
}

// RunsOnSlice reports whether this step executes on the given 1-indexed
// slice, per its frequency.
func (s StepSpec) RunsOnSlice(slice int) bool {
	freq := s.Frequency
	if freq < 1 {
		freq = 1
	}
	return (slice-1)%freq == 0
}

// Validate checks the step, including that the payload matches the kind.
func (s StepSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("step name is required")
	}
	if err := s.Kind.Validate(); err != nil {
		return fmt.Errorf("step %q: %w", s.Name, err)
	}
	if s.Frequency < 1 {
		return fmt.Errorf("step %q: frequency must be >= 1, got %d", s.Name, s.Frequency)
	}
	if s.MaxRetries != nil && *s.MaxRetries < 0 {
		return fmt.Errorf("step %q: max_retries must be >= 0", s.Name)
	}
	if err := s.Stage.Validate(); err != nil {
		return fmt.Errorf("step %q: %w", s.Name, err)
	}

	var payloadErr error
	switch s.Kind {
	case KindImage:
		if s.Image == nil {
			return fmt.Errorf("step %q: kind image requires an image payload", s.Name)
		}
		payloadErr = s.Image.Validate()
	case KindFIB:
		if s.FIB == nil {
			return fmt.Errorf("step %q: kind fib requires a fib payload", s.Name)
		}
		payloadErr = s.FIB.Validate()
	case KindEDS, KindEBSD:
		if s.Analysis == nil {
			return fmt.Errorf("step %q: kind %s requires an analysis payload", s.Name, s.Kind)
		}
		payloadErr = s.Analysis.Validate()
	case KindCustom:
		if s.Custom == nil {
			return fmt.Errorf("step %q: kind custom requires a custom payload", s.Name)
		}
		payloadErr = s.Custom.Validate()
	}
	if payloadErr != nil {
		return fmt.Errorf("step %q: %w", s.Name, payloadErr)
	}
	if n := s.payloadCount(); n != 1 {
		return fmt.Errorf("step %q: exactly one payload must be set, got %d", s.Name, n)
	}
	return nil
}

func (s StepSpec) payloadCount() int {
	n := 0
	if s.Image != nil {
		n++
	}
	if s.FIB != nil {
		n++
	}
	if s.Analysis != nil {
		n++
	}
	if s.Custom != nil {
		n++
	}
	return n
}

// GeneralSettings holds the experiment-wide configuration.
type GeneralSettings struct {
	// FirstSlice and LastSlice bound the inclusive, 1-indexed slice range.
	FirstSlice int `json:"first_slice" yaml:"first_slice" validate:"gte=1"`
	LastSlice  int `json:"last_slice" yaml:"last_slice" validate:"gte=1"`

	// SliceThicknessUM is the material removed per slice in micrometers.
	SliceThicknessUM float64 `json:"slice_thickness_um" yaml:"slice_thickness_um" validate:"gt=0"`

	// OutputDir is the experiment directory; step artifacts land under
	// per-step subdirectories.
	OutputDir string `json:"output_dir" yaml:"output_dir" validate:"required"`

	// Connection locates the microscope server.
	Connection instrument.Config `json:"connection" yaml:"connection" validate:"required"`
}

// Validate checks the general settings.
func (g GeneralSettings) Validate() error {
	if g.FirstSlice < 1 {
		return fmt.Errorf("first_slice must be >= 1, got %d", g.FirstSlice)
	}
	if g.LastSlice < g.FirstSlice {
		return fmt.Errorf("last_slice %d must be >= first_slice %d", g.LastSlice, g.FirstSlice)
	}
	if g.SliceThicknessUM <= 0 {
		return fmt.Errorf("slice_thickness_um must be positive, got %v", g.SliceThicknessUM)
	}
	if g.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if g.Connection.Host == "" {
		return fmt.Errorf("connection host is required")
	}
	if g.Connection.Port <= 0 || g.Connection.Port > 65535 {
		return fmt.Errorf("connection port must be in 1..65535, got %d", g.Connection.Port)
	}
	return nil
}

// Plan is a fully parsed experiment plan.
type Plan struct {
	// Version is the plan file schema version.
	Version string `json:"config_file_version" yaml:"config_file_version" validate:"required"`

	// General holds the experiment-wide settings.
	General GeneralSettings `json:"general" yaml:"general" validate:"required"`

	// Steps is the ordered step list; declaration order is execution
	// order within every slice.
	Steps []StepSpec `json:"steps" yaml:"steps" validate:"required,min=1"`

	// Hash identifies the on-disk plan this was parsed from. Set by the
	// loader, excluded from serialization.
	Hash string `json:"-" yaml:"-"`
}

// Validate checks the whole plan, including step name uniqueness.
func (p *Plan) Validate() error {
	if err := p.General.Validate(); err != nil {
		return err
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	seen := make(map[string]bool, len(p.Steps))
	for _, step := range p.Steps {
		if err := step.Validate(); err != nil {
			return err
		}
		if seen[step.Name] {
			return fmt.Errorf("duplicate step name %q", step.Name)
		}
		seen[step.Name] = true
	}
	return nil
}

// StepIndex returns the declaration index of the named step, or -1.
func (p *Plan) StepIndex(name string) int {
	for i, step := range p.Steps {
		if step.Name == name {
			return i
		}
	}
	return -1
}
