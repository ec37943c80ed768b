package instrument

import (
	"context"

	"github.com/opentribeam/tribeam/pkg/settings"
)

// stageMoveAttempts is how many times a move is issued before giving up.
// Large combined moves can settle slightly off target on the first try;
// reissuing the same absolute target corrects the residual.
const stageMoveAttempts = 2

// StageControl is the capability for the sample stage. The last readback
// is cached and invalidated on every Apply.
type StageControl struct {
	m *Microscope

	cached   settings.StagePosition
	hasCache bool
}

var _ Capability[settings.StagePosition, settings.StagePosition] = (*StageControl)(nil)

func newStageControl(m *Microscope) *StageControl {
	return &StageControl{m: m}
}

// Apply moves the stage to an absolute target, reissuing the move once if
// the first attempt settles outside tolerance, and returns the settled
// position.
func (s *StageControl) Apply(ctx context.Context, target settings.StagePosition) (settings.StagePosition, error) {
	if err := s.m.requireConnected("move_stage"); err != nil {
		return settings.StagePosition{}, err
	}
	if err := target.Validate(); err != nil {
		return settings.StagePosition{}, err
	}

	log := s.m.log.WithField("target", target)
	var live settings.StagePosition
	for attempt := 1; attempt <= stageMoveAttempts; attempt++ {
		s.hasCache = false
		if err := s.m.drv.MoveStage(ctx, target); err != nil {
			return settings.StagePosition{}, err
		}
		var err error
		live, err = s.Read(ctx)
		if err != nil {
			return settings.StagePosition{}, err
		}
		if target.Applied(live) {
			return live, nil
		}
		log.WithField("attempt", attempt).WithField("settled", live).Debug("Stage settled off target, reissuing move")
	}
	return live, NewCommandRejectedError("stage did not settle within tolerance", nil).
		WithDevice("stage").WithOperation("move_stage")
}

// Read returns the current stage position, serving the cached readback
// when no Apply has happened since the last read.
func (s *StageControl) Read(ctx context.Context) (settings.StagePosition, error) {
	if s.hasCache {
		return s.cached, nil
	}
	if err := s.m.requireConnected("read_stage"); err != nil {
		return settings.StagePosition{}, err
	}
	live, err := s.m.drv.ReadStage(ctx)
	if err != nil {
		return settings.StagePosition{}, err
	}
	s.cached = live
	s.hasCache = true
	return live, nil
}

// Validate reports whether a live position is at the target within the
// stage tolerances.
func (s *StageControl) Validate(target, live settings.StagePosition) bool {
	return target.Applied(live)
}
