package settings

// scanRotationLimit is the right-open rotation range in degrees; +180 is
// canonicalized to -180 by the driver.
var scanRotationLimit = Limit{Min: -360, Max: 360}

// dwellTimeLimitUS bounds the per-pixel dwell time in microseconds.
var dwellTimeLimitUS = Limit{Min: 0.025, Max: 1000}

// Scan is a validated scan configuration.
type Scan struct {
	// RotationDeg is the scan rotation in degrees.
	RotationDeg float64 `json:"rotation_deg" yaml:"rotation_deg"`

	// DwellTimeUS is the per-pixel dwell time in microseconds, > 0.
	DwellTimeUS float64 `json:"dwell_time_us" yaml:"dwell_time_us"`

	// Resolution is the scan resolution.
	Resolution Resolution `json:"resolution" yaml:"resolution"`
}

// NewScan constructs and validates a scan configuration.
func NewScan(rotationDeg, dwellTimeUS float64, res Resolution) (Scan, error) {
	s := Scan{RotationDeg: rotationDeg, DwellTimeUS: dwellTimeUS, Resolution: res}
	if err := s.Validate(); err != nil {
		return Scan{}, err
	}
	return s, nil
}

// Validate checks the scan constraints.
func (s Scan) Validate() error {
	if s.DwellTimeUS <= 0 {
		return validationErrorf("scan.dwell_time_us", "dwell time of %v us must be positive", s.DwellTimeUS)
	}
	if !InInterval(s.DwellTimeUS, dwellTimeLimitUS, IntervalClosed) {
		return validationErrorf("scan.dwell_time_us",
			"dwell time of %v us outside limits of %v and %v us",
			s.DwellTimeUS, dwellTimeLimitUS.Min, dwellTimeLimitUS.Max)
	}
	if !InInterval(s.RotationDeg, scanRotationLimit, IntervalClosed) {
		return validationErrorf("scan.rotation_deg",
			"rotation of %v deg outside limits of %v and %v deg",
			s.RotationDeg, scanRotationLimit.Min, scanRotationLimit.Max)
	}
	if s.Resolution == (Resolution{}) {
		return validationErrorf("scan.resolution", "resolution is required")
	}
	return nil
}

// Applied reports whether a live scan readback satisfies this
// configuration. Dwell time compares within a fixed fractional tolerance
// of the setpoint; rotation and resolution must match the set value.
func (s Scan) Applied(live ScanReadback) bool {
	const dwellTolRatio = 0.001
	return WithinTolerance(s.DwellTimeUS, live.DwellTimeUS, s.DwellTimeUS*dwellTolRatio) &&
		WithinTolerance(s.RotationDeg, live.RotationDeg, 1.0e-6) &&
		s.Resolution == live.Resolution
}

// ScanReadback is the live scan state reported by the instrument.
type ScanReadback struct {
	// RotationDeg is the current scan rotation in degrees.
	RotationDeg float64 `json:"rotation_deg"`

	// DwellTimeUS is the current per-pixel dwell time in microseconds.
	DwellTimeUS float64 `json:"dwell_time_us"`

	// Resolution is the current scan resolution.
	Resolution Resolution `json:"resolution"`
}
