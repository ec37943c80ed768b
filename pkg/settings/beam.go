package settings

// BeamType identifies one of the two physical beam columns.
type BeamType string

const (
	// BeamElectron is the electron beam column.
	BeamElectron BeamType = "electron"

	// BeamIon is the focused ion beam column.
	BeamIon BeamType = "ion"
)

// DeviceID addresses a physical imaging sub-system on the instrument. The
// values mirror the vendor's imaging device enumeration and are used to
// route commands to the correct column.
type DeviceID int

const (
	// DeviceElectronBeam routes to the electron column.
	DeviceElectronBeam DeviceID = 1

	// DeviceIonBeam routes to the ion column.
	DeviceIonBeam DeviceID = 2

	// DeviceCCDCamera routes to the chamber CCD camera.
	DeviceCCDCamera DeviceID = 3

	// DeviceNavCam routes to the navigation camera.
	DeviceNavCam DeviceID = 4
)

// BeamSettings is the physical setpoint for a beam. Tolerances bound the
// accepted deviation between setpoint and live readback; "applied" is only
// true once readback falls within setpoint +/- tolerance on every field.
type BeamSettings struct {
	// VoltageKV is the acceleration voltage setpoint in kilovolts.
	VoltageKV float64 `json:"voltage_kv" yaml:"voltage_kv" validate:"gt=0"`

	// VoltageTolKV is the accepted voltage deviation in kilovolts.
	VoltageTolKV float64 `json:"voltage_tol_kv" yaml:"voltage_tol_kv" validate:"gte=0"`

	// CurrentNA is the beam current setpoint in nanoamps.
	CurrentNA float64 `json:"current_na" yaml:"current_na" validate:"gt=0"`

	// CurrentTolNA is the accepted current deviation in nanoamps.
	CurrentTolNA float64 `json:"current_tol_na" yaml:"current_tol_na" validate:"gte=0"`

	// HFWMM is the horizontal field width in millimeters.
	HFWMM float64 `json:"hfw_mm" yaml:"hfw_mm" validate:"gt=0"`

	// WorkingDistMM is the working distance in millimeters.
	WorkingDistMM float64 `json:"working_dist_mm" yaml:"working_dist_mm" validate:"gt=0"`

	// DynamicFocus enables the electron column's dynamic focus correction.
	// Electron beams only.
	DynamicFocus bool `json:"dynamic_focus,omitempty" yaml:"dynamic_focus,omitempty"`

	// TiltCorrection enables the electron column's tilt correction.
	// Electron beams only.
	TiltCorrection bool `json:"tilt_correction,omitempty" yaml:"tilt_correction,omitempty"`
}

// Validate checks the construction-time constraints on a beam setpoint for
// the column it will drive. Angular corrections are an electron-column
// feature; an ion beam requesting them is a configuration mistake, not a
// runtime condition.
func (s BeamSettings) Validate(beamType BeamType) error {
	if s.VoltageKV <= 0 {
		return validationErrorf("beam.voltage_kv", "setpoint of %v kV must be positive", s.VoltageKV)
	}
	if s.VoltageTolKV < 0 {
		return validationErrorf("beam.voltage_tol_kv", "tolerance of %v kV must be non-negative", s.VoltageTolKV)
	}
	if s.CurrentNA <= 0 {
		return validationErrorf("beam.current_na", "setpoint of %v nA must be positive", s.CurrentNA)
	}
	if s.CurrentTolNA < 0 {
		return validationErrorf("beam.current_tol_na", "tolerance of %v nA must be non-negative", s.CurrentTolNA)
	}
	if s.HFWMM <= 0 {
		return validationErrorf("beam.hfw_mm", "horizontal field width of %v mm must be positive", s.HFWMM)
	}
	if s.WorkingDistMM <= 0 {
		return validationErrorf("beam.working_dist_mm", "working distance of %v mm must be positive", s.WorkingDistMM)
	}
	if beamType == BeamIon && (s.DynamicFocus || s.TiltCorrection) {
		return validationErrorf("beam", "dynamic focus and tilt correction are not supported on the ion column")
	}
	return nil
}

// Applied reports whether a live beam readback satisfies this setpoint.
// Each scalar field must independently fall within its own tolerance;
// field width and working distance are treated as exact-set values whose
// verification is the capability's set-then-readback check.
func (s BeamSettings) Applied(live BeamReadback) bool {
	return WithinTolerance(s.VoltageKV, live.VoltageKV, s.VoltageTolKV) &&
		WithinTolerance(s.CurrentNA, live.CurrentNA, s.CurrentTolNA)
}

// BeamReadback is the live state reported by a beam column.
type BeamReadback struct {
	// VoltageKV is the measured acceleration voltage in kilovolts.
	VoltageKV float64 `json:"voltage_kv"`

	// CurrentNA is the measured beam current in nanoamps.
	CurrentNA float64 `json:"current_na"`

	// HFWMM is the current horizontal field width in millimeters.
	HFWMM float64 `json:"hfw_mm"`

	// WorkingDistMM is the current working distance in millimeters.
	WorkingDistMM float64 `json:"working_dist_mm"`

	// On reports whether the beam is emitting.
	On bool `json:"on"`

	// Blanked reports whether the beam is blanked.
	Blanked bool `json:"blanked"`
}

// Beam binds a beam setpoint to the column that will realize it. The beam
// does not own the physical device, only the identifier used to route
// commands to it.
type Beam struct {
	beamType BeamType
	device   DeviceID
	settings BeamSettings
}

// NewElectronBeam constructs an electron-column beam with the given
// setpoint.
func NewElectronBeam(s BeamSettings) (Beam, error) {
	if err := s.Validate(BeamElectron); err != nil {
		return Beam{}, err
	}
	return Beam{beamType: BeamElectron, device: DeviceElectronBeam, settings: s}, nil
}

// NewIonBeam constructs an ion-column beam with the given setpoint.
func NewIonBeam(s BeamSettings) (Beam, error) {
	if err := s.Validate(BeamIon); err != nil {
		return Beam{}, err
	}
	return Beam{beamType: BeamIon, device: DeviceIonBeam, settings: s}, nil
}

// NewBeam dispatches on the beam type tag; unknown tags are rejected.
func NewBeam(beamType BeamType, s BeamSettings) (Beam, error) {
	switch beamType {
	case BeamElectron:
		return NewElectronBeam(s)
	case BeamIon:
		return NewIonBeam(s)
	default:
		return Beam{}, validationErrorf("beam.type", "unknown beam type %q, must be %q or %q",
			beamType, BeamElectron, BeamIon)
	}
}

// Type returns the fixed beam variant tag.
func (b Beam) Type() BeamType { return b.beamType }

// DeviceID returns the identifier used to address the physical column.
func (b Beam) DeviceID() DeviceID { return b.device }

// Settings returns the beam's setpoint.
func (b Beam) Settings() BeamSettings { return b.settings }
