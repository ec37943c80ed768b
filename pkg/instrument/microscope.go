package instrument

import (
	"context"

	"github.com/opentribeam/tribeam/pkg/settings"
	"github.com/opentribeam/tribeam/pkg/telemetry"
)

// Capability is the contract every instrument sub-system exposes: apply a
// validated settings value, read the live state, and judge whether a live
// state satisfies a settings value within tolerance. Validate is pure so
// acceptance can be tested without hardware.
type Capability[S, L any] interface {
	Apply(ctx context.Context, s S) (L, error)
	Read(ctx context.Context) (L, error)
	Validate(s S, live L) bool
}

// Config holds the instrument connection parameters.
type Config struct {
	// Host is the microscope server address.
	Host string `json:"host" yaml:"host" validate:"required"`

	// Port is the microscope server port.
	Port int `json:"port" yaml:"port" validate:"required,gt=0,lte=65535"`
}

// Microscope is the shared handle through which all capabilities reach the
// hardware. It owns the driver session lifecycle.
type Microscope struct {
	drv Driver
	cfg Config
	log *telemetry.Logger

	electron   *BeamControl
	ion        *BeamControl
	detector   *DetectorControl
	stage      *StageControl
	devices    *DeviceBank
	patterning *PatterningControl
}

// New creates a microscope handle over the given driver. No connection is
// made until Connect.
func New(drv Driver, cfg Config, log *telemetry.Logger) *Microscope {
	m := &Microscope{
		drv: drv,
		cfg: cfg,
		log: log.NewComponentLogger("instrument"),
	}
	m.electron = newBeamControl(m, settings.BeamElectron, settings.DeviceElectronBeam)
	m.ion = newBeamControl(m, settings.BeamIon, settings.DeviceIonBeam)
	m.detector = newDetectorControl(m)
	m.stage = newStageControl(m)
	m.devices = newDeviceBank(m)
	m.patterning = newPatterningControl(m)
	return m
}

// Connect opens the driver session.
func (m *Microscope) Connect(ctx context.Context) error {
	m.log.WithField("host", m.cfg.Host).WithField("port", m.cfg.Port).Info("Connecting to microscope")
	if err := m.drv.Connect(ctx, m.cfg.Host, m.cfg.Port); err != nil {
		return err
	}
	m.log.Info("Microscope connected")
	return nil
}

// Disconnect closes the driver session. Safe to call when not connected.
func (m *Microscope) Disconnect(ctx context.Context) error {
	if !m.drv.Connected() {
		return nil
	}
	m.log.Info("Disconnecting from microscope")
	return m.drv.Disconnect(ctx)
}

// Connected reports whether a live driver session exists.
func (m *Microscope) Connected() bool {
	return m.drv.Connected()
}

// Driver exposes the underlying driver for operations that have no
// capability wrapper, such as frame capture.
func (m *Microscope) Driver() Driver { return m.drv }

// APIVersion reports the vendor SDK version of the connected server.
func (m *Microscope) APIVersion(ctx context.Context) (string, error) {
	return m.drv.APIVersion(ctx)
}

// Beam returns the beam control for the given beam type.
func (m *Microscope) Beam(t settings.BeamType) *BeamControl {
	if t == settings.BeamIon {
		return m.ion
	}
	return m.electron
}

// ElectronBeam returns the electron column control.
func (m *Microscope) ElectronBeam() *BeamControl { return m.electron }

// IonBeam returns the ion column control.
func (m *Microscope) IonBeam() *BeamControl { return m.ion }

// Detector returns the detector chain control.
func (m *Microscope) Detector() *DetectorControl { return m.detector }

// Stage returns the stage control.
func (m *Microscope) Stage() *StageControl { return m.stage }

// Devices returns the insertable device bank.
func (m *Microscope) Devices() *DeviceBank { return m.devices }

// Patterning returns the patterning control.
func (m *Microscope) Patterning() *PatterningControl { return m.patterning }

// requireConnected guards capability calls that need a live session.
func (m *Microscope) requireConnected(op string) error {
	if !m.drv.Connected() {
		return NewNotConnectedError("no live microscope session", nil).WithOperation(op)
	}
	return nil
}
