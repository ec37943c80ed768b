package settings

import "fmt"

// ColorDepth is the bit depth of a captured image.
type ColorDepth int

const (
	// Bits8 captures 8-bit grayscale images.
	Bits8 ColorDepth = 8

	// Bits16 captures 16-bit grayscale images.
	Bits16 ColorDepth = 16
)

// Validate checks that the color depth is a supported value.
func (c ColorDepth) Validate() error {
	switch c {
	case Bits8, Bits16:
		return nil
	default:
		return validationErrorf("image.bit_depth", "unsupported bit depth %d, must be 8 or 16", int(c))
	}
}

func (c ColorDepth) String() string {
	return fmt.Sprintf("%d-bit", int(c))
}

// ImageSettings aggregates everything needed to capture a single image:
// the beam to image with, the detector routing, and the scan geometry.
type ImageSettings struct {
	// Beam selects and configures the imaging beam.
	Beam Beam `json:"beam" yaml:"beam"`

	// Detector configures detector type, mode, and brightness/contrast.
	Detector Detector `json:"detector" yaml:"detector"`

	// Scan configures rotation, dwell time, and resolution.
	Scan Scan `json:"scan" yaml:"scan"`

	// BitDepth is the grayscale depth of the captured image. Capture at
	// 16 bits requires a preset resolution; arbitrary resolutions are
	// acquired at 8 bits regardless of this setting.
	BitDepth ColorDepth `json:"bit_depth" yaml:"bit_depth"`
}

// Validate checks every component of the image settings.
func (s ImageSettings) Validate() error {
	if err := s.Beam.Settings().Validate(s.Beam.Type()); err != nil {
		return err
	}
	if err := s.Detector.Validate(); err != nil {
		return err
	}
	if err := s.Scan.Validate(); err != nil {
		return err
	}
	return s.BitDepth.Validate()
}

// CaptureDepth resolves the effective bit depth for this capture. Vendor
// frame grabbers only honor 16-bit acquisition at preset resolutions, so
// arbitrary resolutions fall back to 8 bits.
func (s ImageSettings) CaptureDepth() ColorDepth {
	if s.BitDepth == Bits16 && !s.Scan.Resolution.IsPreset() {
		return Bits8
	}
	return s.BitDepth
}
