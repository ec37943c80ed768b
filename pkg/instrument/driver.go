package instrument

import (
	"context"

	"github.com/opentribeam/tribeam/pkg/settings"
)

// Driver abstracts the vendor microscope SDK. All methods are expected to
// return *DeviceError on failure so callers can classify for retry.
// Implementations must be safe for sequential use from a single goroutine;
// the engine never issues concurrent instrument commands.
type Driver interface {
	// Connect opens a session with the microscope server.
	Connect(ctx context.Context, host string, port int) error

	// Disconnect closes the session. Safe to call when not connected.
	Disconnect(ctx context.Context) error

	// Connected reports whether a live session exists.
	Connected() bool

	// APIVersion reports the vendor SDK version of the connected server.
	APIVersion(ctx context.Context) (string, error)

	// SetBeam applies beam settings to the given beam column.
	SetBeam(ctx context.Context, device settings.DeviceID, s settings.BeamSettings) error

	// ReadBeam reads live beam state from the given beam column.
	ReadBeam(ctx context.Context, device settings.DeviceID) (settings.BeamReadback, error)

	// BeamOn turns the beam emission on.
	BeamOn(ctx context.Context, device settings.DeviceID) error

	// Unblank removes the beam blanker.
	Unblank(ctx context.Context, device settings.DeviceID) error

	// VacuumPumped reports whether the chamber is at operating vacuum.
	VacuumPumped(ctx context.Context) (bool, error)

	// SetDetector routes and configures the detector chain.
	SetDetector(ctx context.Context, d settings.Detector) error

	// ReadDetector reads the live detector chain state.
	ReadDetector(ctx context.Context) (settings.DetectorReadback, error)

	// AutoContrastBrightness runs the vendor auto contrast/brightness
	// routine over a reduced area using the given beam.
	AutoContrastBrightness(ctx context.Context, device settings.DeviceID) error

	// SetScan applies scan geometry to the given beam column.
	SetScan(ctx context.Context, device settings.DeviceID, s settings.Scan) error

	// ReadScan reads live scan geometry from the given beam column.
	ReadScan(ctx context.Context, device settings.DeviceID) (settings.ScanReadback, error)

	// CaptureFrame grabs a single frame with the given beam at the given
	// depth and writes it to path as a TIFF.
	CaptureFrame(ctx context.Context, device settings.DeviceID, depth settings.ColorDepth, path string) error

	// MoveStage drives the stage to an absolute position and blocks until
	// the move settles.
	MoveStage(ctx context.Context, target settings.StagePosition) error

	// ReadStage reads the current stage position.
	ReadStage(ctx context.Context) (settings.StagePosition, error)

	// ListDevices names the insertable devices present on this instrument.
	ListDevices(ctx context.Context) ([]string, error)

	// InsertDevice inserts the named device and blocks until seated.
	InsertDevice(ctx context.Context, name string) error

	// RetractDevice retracts the named device. Retracting an already
	// retracted device is not an error.
	RetractDevice(ctx context.Context, name string) error

	// PrepareMilling selects the patterning application file.
	PrepareMilling(ctx context.Context, application string) error

	// CreatePattern defines a pattern for the next patterning run,
	// replacing any previously defined patterns.
	CreatePattern(ctx context.Context, p Pattern) error

	// RunPatterning executes the defined pattern and blocks until the
	// instrument reports completion.
	RunPatterning(ctx context.Context) error

	// StopPatterning aborts an in-progress patterning run.
	StopPatterning(ctx context.Context) error
}

// PatternType selects the milling geometry.
type PatternType string

const (
	PatternRectangle            PatternType = "rectangle"
	PatternRegularCrossSection  PatternType = "regular_cross_section"
	PatternCleaningCrossSection PatternType = "cleaning_cross_section"
)

// ScanDirection is the raster direction of a patterning run.
type ScanDirection string

const (
	ScanTopToBottom ScanDirection = "TopToBottom"
	ScanBottomToTop ScanDirection = "BottomToTop"
	ScanLeftToRight ScanDirection = "LeftToRight"
	ScanRightToLeft ScanDirection = "RightToLeft"
)

// Pattern is a milling pattern in beam-frame coordinates.
type Pattern struct {
	// Type is the pattern geometry.
	Type PatternType `json:"type" yaml:"type"`

	// CenterXUM and CenterYUM place the pattern center in micrometers
	// relative to the field of view center.
	CenterXUM float64 `json:"center_x_um" yaml:"center_x_um"`
	CenterYUM float64 `json:"center_y_um" yaml:"center_y_um"`

	// WidthUM and HeightUM are the pattern extents in micrometers.
	WidthUM  float64 `json:"width_um" yaml:"width_um"`
	HeightUM float64 `json:"height_um" yaml:"height_um"`

	// DepthUM is the target mill depth in micrometers.
	DepthUM float64 `json:"depth_um" yaml:"depth_um"`

	// ScanDirection is the raster direction.
	ScanDirection ScanDirection `json:"scan_direction" yaml:"scan_direction"`
}

// Validate checks the pattern geometry.
func (p Pattern) Validate() error {
	switch p.Type {
	case PatternRectangle, PatternRegularCrossSection, PatternCleaningCrossSection:
	default:
		return NewOutOfRangeError("unknown pattern type "+string(p.Type), nil).WithOperation("create_pattern")
	}
	if p.WidthUM <= 0 || p.HeightUM <= 0 || p.DepthUM <= 0 {
		return NewOutOfRangeError("pattern extents and depth must be positive", nil).WithOperation("create_pattern")
	}
	switch p.ScanDirection {
	case ScanTopToBottom, ScanBottomToTop, ScanLeftToRight, ScanRightToLeft:
	default:
		return NewOutOfRangeError("unknown scan direction "+string(p.ScanDirection), nil).WithOperation("create_pattern")
	}
	return nil
}
