package instrument

import (
	"context"

	"github.com/opentribeam/tribeam/pkg/settings"
)

// DetectorControl is the capability for the detector chain. The last
// readback is cached and invalidated on every Apply.
type DetectorControl struct {
	m *Microscope

	cached   settings.DetectorReadback
	hasCache bool
}

var _ Capability[settings.Detector, settings.DetectorReadback] = (*DetectorControl)(nil)

func newDetectorControl(m *Microscope) *DetectorControl {
	return &DetectorControl{m: m}
}

// Apply validates and routes the detector chain, then returns a fresh
// readback. Automatic contrast/brightness is a separate operation because
// it needs a live beam; see AutoAdjust.
func (d *DetectorControl) Apply(ctx context.Context, s settings.Detector) (settings.DetectorReadback, error) {
	if err := d.m.requireConnected("apply_detector"); err != nil {
		return settings.DetectorReadback{}, err
	}
	if err := s.Validate(); err != nil {
		return settings.DetectorReadback{}, err
	}
	d.hasCache = false
	if err := d.m.drv.SetDetector(ctx, s); err != nil {
		return settings.DetectorReadback{}, err
	}
	return d.Read(ctx)
}

// Read returns the live detector state, serving the cached readback when
// no Apply has happened since the last read.
func (d *DetectorControl) Read(ctx context.Context) (settings.DetectorReadback, error) {
	if d.hasCache {
		return d.cached, nil
	}
	if err := d.m.requireConnected("read_detector"); err != nil {
		return settings.DetectorReadback{}, err
	}
	live, err := d.m.drv.ReadDetector(ctx)
	if err != nil {
		return settings.DetectorReadback{}, err
	}
	d.cached = live
	d.hasCache = true
	return live, nil
}

// Validate reports whether a live readback satisfies the settings.
func (d *DetectorControl) Validate(s settings.Detector, live settings.DetectorReadback) bool {
	return s.Applied(live)
}

// AutoAdjust runs the vendor automatic contrast/brightness routine using
// the given beam. The cached readback is invalidated because the routine
// moves the levels.
func (d *DetectorControl) AutoAdjust(ctx context.Context, device settings.DeviceID) error {
	if err := d.m.requireConnected("auto_cb"); err != nil {
		return err
	}
	d.hasCache = false
	return d.m.drv.AutoContrastBrightness(ctx, device)
}
