package instrument

import "context"

// DeviceBank manages the insertable devices (retractable detectors and
// cameras) present on the instrument.
type DeviceBank struct {
	m *Microscope
}

func newDeviceBank(m *Microscope) *DeviceBank {
	return &DeviceBank{m: m}
}

// List names the insertable devices present on this instrument.
func (d *DeviceBank) List(ctx context.Context) ([]string, error) {
	if err := d.m.requireConnected("list_devices"); err != nil {
		return nil, err
	}
	return d.m.drv.ListDevices(ctx)
}

// Insert inserts the named device and blocks until seated.
func (d *DeviceBank) Insert(ctx context.Context, name string) error {
	if err := d.m.requireConnected("insert_device"); err != nil {
		return err
	}
	d.m.log.WithDevice(name).Debug("Inserting device")
	return d.m.drv.InsertDevice(ctx, name)
}

// Retract retracts the named device. Retracting an already retracted
// device is not an error.
func (d *DeviceBank) Retract(ctx context.Context, name string) error {
	if err := d.m.requireConnected("retract_device"); err != nil {
		return err
	}
	d.m.log.WithDevice(name).Debug("Retracting device")
	return d.m.drv.RetractDevice(ctx, name)
}

// RetractAll retracts every insertable device. Stage moves and milling
// runs only happen with everything retracted.
func (d *DeviceBank) RetractAll(ctx context.Context) error {
	names, err := d.List(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := d.Retract(ctx, name); err != nil {
			return err
		}
	}
	return nil
}
