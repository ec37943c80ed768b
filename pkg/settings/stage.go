package settings

import "math"

// Stage acceptance tolerances. Translation is compared in millimeters,
// rotation and tilt in degrees.
const (
	// StageTranslationTolMM is the acceptance tolerance for x/y/z moves.
	StageTranslationTolMM = 0.5e-3

	// StageAngularTolDeg is the acceptance tolerance for rotation and tilt.
	StageAngularTolDeg = 0.02
)

// stageAxisLimits bound the translation axes in millimeters.
var stageAxisLimits = Limit{Min: -20, Max: 20}

// stageTiltLimit bounds the tilt axis in degrees.
var stageTiltLimit = Limit{Min: -10, Max: 60}

// StagePosition is an absolute stage target in raw stage coordinates.
type StagePosition struct {
	// XMM is the x translation in millimeters.
	XMM float64 `json:"x_mm" yaml:"x_mm"`

	// YMM is the y translation in millimeters.
	YMM float64 `json:"y_mm" yaml:"y_mm"`

	// ZMM is the z translation in millimeters.
	ZMM float64 `json:"z_mm" yaml:"z_mm"`

	// RDeg is the stage rotation in degrees, in [-180, 180).
	RDeg float64 `json:"r_deg" yaml:"r_deg"`

	// TDeg is the stage tilt in degrees.
	TDeg float64 `json:"t_deg" yaml:"t_deg"`
}

// Validate checks the position against the stage travel limits.
func (p StagePosition) Validate() error {
	axes := []struct {
		field string
		val   float64
	}{
		{"stage.x_mm", p.XMM},
		{"stage.y_mm", p.YMM},
		{"stage.z_mm", p.ZMM},
	}
	for _, a := range axes {
		if !InInterval(a.val, stageAxisLimits, IntervalClosed) {
			return validationErrorf(a.field, "%v mm outside travel limits of %v and %v mm",
				a.val, stageAxisLimits.Min, stageAxisLimits.Max)
		}
	}
	if p.RDeg < -180 || p.RDeg >= 180 {
		return validationErrorf("stage.r_deg", "rotation of %v deg must be in [-180, 180)", p.RDeg)
	}
	if !InInterval(p.TDeg, stageTiltLimit, IntervalClosed) {
		return validationErrorf("stage.t_deg", "tilt of %v deg outside limits of %v and %v deg",
			p.TDeg, stageTiltLimit.Min, stageTiltLimit.Max)
	}
	return nil
}

// SliceAdjusted returns the position offset along the sectioning axis for
// the given 1-indexed slice. Each completed slice consumes thicknessUM of
// material, so slice n starts thicknessUM*(n-1) deeper along z.
func (p StagePosition) SliceAdjusted(slice int, thicknessUM float64) StagePosition {
	adj := p
	adj.ZMM += thicknessUM * float64(slice-1) / 1000.0
	return adj
}

// Applied reports whether a live stage readback is at this position within
// the stage tolerances. Rotation compares on the circle, so -180 and +180
// are coincident.
func (p StagePosition) Applied(live StagePosition) bool {
	return WithinTolerance(p.XMM, live.XMM, StageTranslationTolMM) &&
		WithinTolerance(p.YMM, live.YMM, StageTranslationTolMM) &&
		WithinTolerance(p.ZMM, live.ZMM, StageTranslationTolMM) &&
		angularDelta(p.RDeg, live.RDeg) <= StageAngularTolDeg &&
		WithinTolerance(p.TDeg, live.TDeg, StageAngularTolDeg)
}

// angularDelta is the shortest angular distance between two headings.
func angularDelta(a, b float64) float64 {
	d := math.Mod(a-b, 360)
	if d < -180 {
		d += 360
	} else if d > 180 {
		d -= 360
	}
	return math.Abs(d)
}
