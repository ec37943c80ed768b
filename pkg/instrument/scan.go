package instrument

import (
	"context"

	"github.com/opentribeam/tribeam/pkg/settings"
)

// ScanControl is the capability for one beam column's scan generator. The
// last readback is cached and invalidated on every Apply.
type ScanControl struct {
	m      *Microscope
	device settings.DeviceID

	cached   settings.ScanReadback
	hasCache bool
}

var _ Capability[settings.Scan, settings.ScanReadback] = (*ScanControl)(nil)

// Scan returns the scan control for the given beam column.
func (b *BeamControl) Scan() *ScanControl {
	if b.scan == nil {
		b.scan = &ScanControl{m: b.m, device: b.device}
	}
	return b.scan
}

// Apply validates and applies scan geometry, then returns a fresh
// readback.
func (s *ScanControl) Apply(ctx context.Context, cfg settings.Scan) (settings.ScanReadback, error) {
	if err := s.m.requireConnected("apply_scan"); err != nil {
		return settings.ScanReadback{}, err
	}
	if err := cfg.Validate(); err != nil {
		return settings.ScanReadback{}, err
	}
	s.hasCache = false
	if err := s.m.drv.SetScan(ctx, s.device, cfg); err != nil {
		return settings.ScanReadback{}, err
	}
	return s.Read(ctx)
}

// Read returns the live scan state, serving the cached readback when no
// Apply has happened since the last read.
func (s *ScanControl) Read(ctx context.Context) (settings.ScanReadback, error) {
	if s.hasCache {
		return s.cached, nil
	}
	if err := s.m.requireConnected("read_scan"); err != nil {
		return settings.ScanReadback{}, err
	}
	live, err := s.m.drv.ReadScan(ctx, s.device)
	if err != nil {
		return settings.ScanReadback{}, err
	}
	s.cached = live
	s.hasCache = true
	return live, nil
}

// Validate reports whether a live readback satisfies the scan settings.
func (s *ScanControl) Validate(cfg settings.Scan, live settings.ScanReadback) bool {
	return cfg.Applied(live)
}
