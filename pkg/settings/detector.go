package settings

import "strings"

// DetectorType is the enumerated detector model installed on the chamber.
type DetectorType string

const (
	DetectorETD  DetectorType = "ETD"
	DetectorTLD  DetectorType = "TLD"
	DetectorICE  DetectorType = "ICE"
	DetectorABS  DetectorType = "ABS"
	DetectorCBS  DetectorType = "CBS"
	DetectorEBSD DetectorType = "EBSD"
	DetectorEDS  DetectorType = "EDS"
	DetectorNone DetectorType = "None"
)

// DetectorMode is the enumerated signal the detector collects.
type DetectorMode string

const (
	ModeSecondaryElectrons   DetectorMode = "SecondaryElectrons"
	ModeBackscatterElectrons DetectorMode = "BackscatterElectrons"
	ModeSecondaryIons        DetectorMode = "SecondaryIons"
	ModeAll                  DetectorMode = "All"
	ModeAMinusB              DetectorMode = "AMinusB"
	ModeAPlusB               DetectorMode = "APlusB"
	ModeAngular              DetectorMode = "Angular"
	ModeNone                 DetectorMode = "None"
)

// detectorModes maps each detector type to the signal modes it supports.
// The cross-field rule: a detector settings value is only valid when its
// mode is a member of its type's set.
var detectorModes = map[DetectorType][]DetectorMode{
	DetectorETD:  {ModeSecondaryElectrons, ModeBackscatterElectrons, ModeAll},
	DetectorTLD:  {ModeSecondaryElectrons, ModeBackscatterElectrons},
	DetectorICE:  {ModeSecondaryIons, ModeSecondaryElectrons},
	DetectorABS:  {ModeAll, ModeAMinusB, ModeAPlusB, ModeAngular},
	DetectorCBS:  {ModeAll, ModeAMinusB, ModeAPlusB, ModeAngular},
	DetectorEBSD: {ModeNone},
	DetectorEDS:  {ModeNone},
}

// brightnessContrastLimit bounds detector brightness and contrast, which
// the instrument expresses as fractions.
var brightnessContrastLimit = Limit{Min: 0, Max: 1}

// Detector is a validated detector configuration.
type Detector struct {
	// Type is the detector model.
	Type DetectorType `json:"type" yaml:"type"`

	// Mode is the collected signal; must be supported by Type.
	Mode DetectorMode `json:"mode" yaml:"mode"`

	// Brightness is the detector brightness in [0,1].
	Brightness float64 `json:"brightness" yaml:"brightness"`

	// Contrast is the detector contrast in [0,1].
	Contrast float64 `json:"contrast" yaml:"contrast"`

	// AutoCB runs the instrument's automatic contrast/brightness routine
	// over a reduced scan area before capture instead of applying the
	// fixed Brightness/Contrast values.
	AutoCB bool `json:"auto_cb,omitempty" yaml:"auto_cb,omitempty"`
}

// NewDetector constructs and validates a detector configuration.
func NewDetector(typ DetectorType, mode DetectorMode, brightness, contrast float64) (Detector, error) {
	d := Detector{Type: typ, Mode: mode, Brightness: brightness, Contrast: contrast}
	if err := d.Validate(); err != nil {
		return Detector{}, err
	}
	return d, nil
}

// Validate checks the detector constraints, including the type/mode
// cross-field rule.
func (d Detector) Validate() error {
	modes, ok := detectorModes[d.Type]
	if !ok {
		return validationErrorf("detector.type", "unknown detector type %q", d.Type)
	}
	if !d.supportsMode(modes) {
		return validationErrorf("detector.mode",
			"mode %q is not supported by detector type %q, valid modes: %s",
			d.Mode, d.Type, joinModes(modes))
	}
	if !InInterval(d.Brightness, brightnessContrastLimit, IntervalClosed) {
		return validationErrorf("detector.brightness", "%v must be in [0,1]", d.Brightness)
	}
	if !InInterval(d.Contrast, brightnessContrastLimit, IntervalClosed) {
		return validationErrorf("detector.contrast", "%v must be in [0,1]", d.Contrast)
	}
	return nil
}

// Applied reports whether a live detector readback satisfies this
// configuration. Brightness and contrast compare within a fixed fractional
// tolerance; type and mode must match exactly.
func (d Detector) Applied(live DetectorReadback) bool {
	const cbTol = 1.0e-4
	if d.AutoCB {
		// Auto contrast/brightness leaves the levels wherever the routine
		// settles; only routing is verified.
		return live.Type == d.Type && live.Mode == d.Mode
	}
	return live.Type == d.Type &&
		live.Mode == d.Mode &&
		WithinTolerance(d.Brightness, live.Brightness, cbTol) &&
		WithinTolerance(d.Contrast, live.Contrast, cbTol)
}

func (d Detector) supportsMode(modes []DetectorMode) bool {
	for _, m := range modes {
		if m == d.Mode {
			return true
		}
	}
	return false
}

func joinModes(modes []DetectorMode) string {
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

// DetectorReadback is the live state reported by the detector chain.
type DetectorReadback struct {
	// Type is the active detector model.
	Type DetectorType `json:"type"`

	// Mode is the active signal mode.
	Mode DetectorMode `json:"mode"`

	// Brightness is the current brightness in [0,1].
	Brightness float64 `json:"brightness"`

	// Contrast is the current contrast in [0,1].
	Contrast float64 `json:"contrast"`
}
