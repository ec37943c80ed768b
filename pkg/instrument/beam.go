package instrument

import (
	"context"
	"time"

	"github.com/opentribeam/tribeam/pkg/settings"
)

// BeamControl is the capability for one beam column. The last readback is
// cached and invalidated on every Apply.
type BeamControl struct {
	m        *Microscope
	beamType settings.BeamType
	device   settings.DeviceID

	cached   settings.BeamReadback
	hasCache bool

	scan *ScanControl
}

var _ Capability[settings.BeamSettings, settings.BeamReadback] = (*BeamControl)(nil)

func newBeamControl(m *Microscope, t settings.BeamType, device settings.DeviceID) *BeamControl {
	return &BeamControl{m: m, beamType: t, device: device}
}

// Type returns the beam type this control drives.
func (b *BeamControl) Type() settings.BeamType { return b.beamType }

// Apply validates and applies beam settings, then returns a fresh readback.
func (b *BeamControl) Apply(ctx context.Context, s settings.BeamSettings) (settings.BeamReadback, error) {
	if err := b.m.requireConnected("apply_beam"); err != nil {
		return settings.BeamReadback{}, err
	}
	if err := s.Validate(b.beamType); err != nil {
		return settings.BeamReadback{}, err
	}
	b.hasCache = false
	if err := b.m.drv.SetBeam(ctx, b.device, s); err != nil {
		return settings.BeamReadback{}, err
	}
	return b.Read(ctx)
}

// Read returns the live beam state, serving the cached readback when no
// Apply has happened since the last read.
func (b *BeamControl) Read(ctx context.Context) (settings.BeamReadback, error) {
	if b.hasCache {
		return b.cached, nil
	}
	if err := b.m.requireConnected("read_beam"); err != nil {
		return settings.BeamReadback{}, err
	}
	live, err := b.m.drv.ReadBeam(ctx, b.device)
	if err != nil {
		return settings.BeamReadback{}, err
	}
	b.cached = live
	b.hasCache = true
	return live, nil
}

// Validate reports whether a live readback satisfies the settings within
// their tolerances.
func (b *BeamControl) Validate(s settings.BeamSettings, live settings.BeamReadback) bool {
	return s.Applied(live)
}

// Ready drives the beam to an imaging-ready state: chamber at vacuum,
// emission on, blanker out. It retries up to attempts times with delay
// between tries because emission can take several seconds to stabilize.
func (b *BeamControl) Ready(ctx context.Context, attempts int, delay time.Duration) error {
	if err := b.m.requireConnected("beam_ready"); err != nil {
		return err
	}
	pumped, err := b.m.drv.VacuumPumped(ctx)
	if err != nil {
		return err
	}
	if !pumped {
		return NewCommandRejectedError("chamber is not at operating vacuum", nil).
			WithDevice(string(b.beamType)).WithOperation("beam_ready")
	}

	log := b.m.log.WithField("beam", string(b.beamType))
	for attempt := 1; attempt <= attempts; attempt++ {
		live, err := b.refresh(ctx)
		if err != nil {
			return err
		}
		if live.On && !live.Blanked {
			return nil
		}
		log.WithField("attempt", attempt).Debug("Beam not ready, requesting emission and unblank")
		if !live.On {
			if err := b.m.drv.BeamOn(ctx, b.device); err != nil {
				return err
			}
		}
		if live.Blanked {
			if err := b.m.drv.Unblank(ctx, b.device); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return NewTimeoutError("cancelled while waiting for beam", ctx.Err()).
				WithDevice(string(b.beamType)).WithOperation("beam_ready")
		case <-time.After(delay):
		}
	}

	live, err := b.refresh(ctx)
	if err != nil {
		return err
	}
	if live.On && !live.Blanked {
		return nil
	}
	return NewTimeoutError("beam did not reach ready state", nil).
		WithDevice(string(b.beamType)).WithOperation("beam_ready")
}

// refresh bypasses the cache and reads live state.
func (b *BeamControl) refresh(ctx context.Context) (settings.BeamReadback, error) {
	b.hasCache = false
	return b.Read(ctx)
}
