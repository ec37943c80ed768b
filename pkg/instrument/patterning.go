package instrument

import "context"

// PatterningControl drives FIB milling runs.
type PatterningControl struct {
	m *Microscope
}

func newPatterningControl(m *Microscope) *PatterningControl {
	return &PatterningControl{m: m}
}

// Mill selects the patterning application, defines the pattern, and runs
// it to completion. The driver blocks until the instrument reports the
// pattern finished, so a returned nil means the mill completed.
func (p *PatterningControl) Mill(ctx context.Context, application string, pattern Pattern) error {
	if err := p.m.requireConnected("mill"); err != nil {
		return err
	}
	if err := pattern.Validate(); err != nil {
		return err
	}

	log := p.m.log.WithField("application", application).WithField("pattern", string(pattern.Type))
	log.Info("Preparing milling run")
	if err := p.m.drv.PrepareMilling(ctx, application); err != nil {
		return err
	}
	if err := p.m.drv.CreatePattern(ctx, pattern); err != nil {
		return err
	}
	log.Info("Running pattern")
	if err := p.m.drv.RunPatterning(ctx); err != nil {
		return err
	}
	log.Info("Milling run complete")
	return nil
}

// Stop aborts an in-progress patterning run.
func (p *PatterningControl) Stop(ctx context.Context) error {
	if err := p.m.requireConnected("stop_patterning"); err != nil {
		return err
	}
	return p.m.drv.StopPatterning(ctx)
}
