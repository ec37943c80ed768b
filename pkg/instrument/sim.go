package instrument

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opentribeam/tribeam/pkg/settings"
)

// SimDriver is an in-memory Driver used by tests and dry runs. It accepts
// every command, tracks the state a real instrument would hold, and writes
// placeholder frames on capture. Failure injection hooks let tests force
// specific errors per operation.
type SimDriver struct {
	connected bool

	beams     map[settings.DeviceID]settings.BeamReadback
	scans     map[settings.DeviceID]settings.ScanReadback
	detector  settings.DetectorReadback
	stage     settings.StagePosition
	inserted  map[string]bool
	devices   []string
	pumped    bool
	millApp   string
	pattern   Pattern
	millRuns  int
	framePath string

	// FailOn maps an operation name to an error the next call returns.
	// The entry is consumed by the call, so a single injection fails once.
	FailOn map[string]error

	// StageSlipMM offsets the next stage move in x by this amount, then
	// resets, to exercise the settle-and-reissue path.
	StageSlipMM float64

	// Calls records every driver call in order, for assertions.
	Calls []string
}

var _ Driver = (*SimDriver)(nil)

// NewSimDriver creates a simulated instrument at vacuum with the usual
// insertable devices retracted.
func NewSimDriver() *SimDriver {
	return &SimDriver{
		beams:    make(map[settings.DeviceID]settings.BeamReadback),
		scans:    make(map[settings.DeviceID]settings.ScanReadback),
		inserted: make(map[string]bool),
		devices:  []string{"EBSD", "EDS"},
		pumped:   true,
		FailOn:   make(map[string]error),
	}
}

// SetPumped overrides the vacuum state.
func (d *SimDriver) SetPumped(pumped bool) { d.pumped = pumped }

// MillRuns reports how many patterning runs completed.
func (d *SimDriver) MillRuns() int { return d.millRuns }

// Inserted reports whether the named device is currently inserted.
func (d *SimDriver) Inserted(name string) bool { return d.inserted[name] }

// LastFramePath reports where the most recent capture was written.
func (d *SimDriver) LastFramePath() string { return d.framePath }

func (d *SimDriver) step(op string) error {
	d.Calls = append(d.Calls, op)
	if err, ok := d.FailOn[op]; ok {
		delete(d.FailOn, op)
		return err
	}
	return nil
}

func (d *SimDriver) guard(op string) error {
	if err := d.step(op); err != nil {
		return err
	}
	if !d.connected {
		return NewNotConnectedError("simulator not connected", nil).WithOperation(op)
	}
	return nil
}

func (d *SimDriver) Connect(ctx context.Context, host string, port int) error {
	if err := d.step("connect"); err != nil {
		return err
	}
	d.connected = true
	return nil
}

func (d *SimDriver) Disconnect(ctx context.Context) error {
	if err := d.step("disconnect"); err != nil {
		return err
	}
	d.connected = false
	return nil
}

func (d *SimDriver) Connected() bool { return d.connected }

func (d *SimDriver) APIVersion(ctx context.Context) (string, error) {
	if err := d.guard("api_version"); err != nil {
		return "", err
	}
	return "sim-1.0", nil
}

func (d *SimDriver) SetBeam(ctx context.Context, device settings.DeviceID, s settings.BeamSettings) error {
	if err := d.guard("set_beam"); err != nil {
		return err
	}
	rb := d.beams[device]
	rb.VoltageKV = s.VoltageKV
	rb.CurrentNA = s.CurrentNA
	rb.HFWMM = s.HFWMM
	rb.WorkingDistMM = s.WorkingDistMM
	d.beams[device] = rb
	return nil
}

func (d *SimDriver) ReadBeam(ctx context.Context, device settings.DeviceID) (settings.BeamReadback, error) {
	if err := d.guard("read_beam"); err != nil {
		return settings.BeamReadback{}, err
	}
	return d.beams[device], nil
}

func (d *SimDriver) BeamOn(ctx context.Context, device settings.DeviceID) error {
	if err := d.guard("beam_on"); err != nil {
		return err
	}
	rb := d.beams[device]
	rb.On = true
	d.beams[device] = rb
	return nil
}

func (d *SimDriver) Unblank(ctx context.Context, device settings.DeviceID) error {
	if err := d.guard("unblank"); err != nil {
		return err
	}
	rb := d.beams[device]
	rb.Blanked = false
	d.beams[device] = rb
	return nil
}

func (d *SimDriver) VacuumPumped(ctx context.Context) (bool, error) {
	if err := d.guard("vacuum_pumped"); err != nil {
		return false, err
	}
	return d.pumped, nil
}

func (d *SimDriver) SetDetector(ctx context.Context, s settings.Detector) error {
	if err := d.guard("set_detector"); err != nil {
		return err
	}
	d.detector = settings.DetectorReadback{
		Type:       s.Type,
		Mode:       s.Mode,
		Brightness: s.Brightness,
		Contrast:   s.Contrast,
	}
	return nil
}

func (d *SimDriver) ReadDetector(ctx context.Context) (settings.DetectorReadback, error) {
	if err := d.guard("read_detector"); err != nil {
		return settings.DetectorReadback{}, err
	}
	return d.detector, nil
}

func (d *SimDriver) AutoContrastBrightness(ctx context.Context, device settings.DeviceID) error {
	if err := d.guard("auto_cb"); err != nil {
		return err
	}
	d.detector.Brightness = 0.5
	d.detector.Contrast = 0.5
	return nil
}

func (d *SimDriver) SetScan(ctx context.Context, device settings.DeviceID, s settings.Scan) error {
	if err := d.guard("set_scan"); err != nil {
		return err
	}
	d.scans[device] = settings.ScanReadback{
		RotationDeg: s.RotationDeg,
		DwellTimeUS: s.DwellTimeUS,
		Resolution:  s.Resolution,
	}
	return nil
}

func (d *SimDriver) ReadScan(ctx context.Context, device settings.DeviceID) (settings.ScanReadback, error) {
	if err := d.guard("read_scan"); err != nil {
		return settings.ScanReadback{}, err
	}
	return d.scans[device], nil
}

func (d *SimDriver) CaptureFrame(ctx context.Context, device settings.DeviceID, depth settings.ColorDepth, path string) error {
	if err := d.guard("capture_frame"); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return NewCommandRejectedError("cannot create frame directory", err).WithOperation("capture_frame")
	}
	content := fmt.Sprintf("sim frame device=%d depth=%d\n", device, depth)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return NewCommandRejectedError("cannot write frame", err).WithOperation("capture_frame")
	}
	d.framePath = path
	return nil
}

func (d *SimDriver) MoveStage(ctx context.Context, target settings.StagePosition) error {
	if err := d.guard("move_stage"); err != nil {
		return err
	}
	d.stage = target
	d.stage.XMM += d.StageSlipMM
	d.StageSlipMM = 0
	return nil
}

func (d *SimDriver) ReadStage(ctx context.Context) (settings.StagePosition, error) {
	if err := d.guard("read_stage"); err != nil {
		return settings.StagePosition{}, err
	}
	return d.stage, nil
}

func (d *SimDriver) ListDevices(ctx context.Context) ([]string, error) {
	if err := d.guard("list_devices"); err != nil {
		return nil, err
	}
	return append([]string(nil), d.devices...), nil
}

func (d *SimDriver) InsertDevice(ctx context.Context, name string) error {
	if err := d.guard("insert_device"); err != nil {
		return err
	}
	d.inserted[name] = true
	return nil
}

func (d *SimDriver) RetractDevice(ctx context.Context, name string) error {
	if err := d.guard("retract_device"); err != nil {
		return err
	}
	d.inserted[name] = false
	return nil
}

func (d *SimDriver) PrepareMilling(ctx context.Context, application string) error {
	if err := d.guard("prepare_milling"); err != nil {
		return err
	}
	d.millApp = application
	return nil
}

func (d *SimDriver) CreatePattern(ctx context.Context, p Pattern) error {
	if err := d.guard("create_pattern"); err != nil {
		return err
	}
	d.pattern = p
	return nil
}

func (d *SimDriver) RunPatterning(ctx context.Context) error {
	if err := d.guard("run_patterning"); err != nil {
		return err
	}
	if d.millApp == "" {
		return NewCommandRejectedError("no patterning application selected", nil).WithOperation("run_patterning")
	}
	d.millRuns++
	return nil
}

func (d *SimDriver) StopPatterning(ctx context.Context) error {
	return d.guard("stop_patterning")
}
