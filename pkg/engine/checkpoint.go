package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opentribeam/tribeam/pkg/plan"
)

// Cursor identifies the next step to execute. It never points at a step
// that already completed.
type Cursor struct {
	// Slice is the 1-indexed slice being worked.
	Slice int `json:"slice"`

	// StepIndex is the 0-based index into the plan's step list.
	StepIndex int `json:"step_index"`
}

// Before reports whether c precedes other in the lexicographic
// (slice, step) order.
func (c Cursor) Before(other Cursor) bool {
	if c.Slice != other.Slice {
		return c.Slice < other.Slice
	}
	return c.StepIndex < other.StepIndex
}

// Next returns the cursor advanced by one step, wrapping to the next
// slice when the step list is exhausted.
func (c Cursor) Next(stepsPerSlice int) Cursor {
	next := Cursor{Slice: c.Slice, StepIndex: c.StepIndex + 1}
	if next.StepIndex >= stepsPerSlice {
		next = Cursor{Slice: c.Slice + 1, StepIndex: 0}
	}
	return next
}

// PastEnd reports whether the cursor has advanced beyond the plan's last
// slice.
func (c Cursor) PastEnd(lastSlice int) bool {
	return c.Slice > lastSlice
}

// Checkpoint is the durable record of run progress. It is the only state
// that crosses a process restart.
type Checkpoint struct {
	// RunID identifies the run this checkpoint belongs to.
	RunID string `json:"run_id"`

	// PlanHash identifies the exact plan file bytes the run started
	// with, so resume can detect edits.
	PlanHash string `json:"plan_hash"`

	// Cursor is the next step to execute.
	Cursor Cursor `json:"cursor"`

	// Status is the run state when the checkpoint was written.
	Status RunStatus `json:"status"`

	// UpdatedAt is when the checkpoint was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckpointStore persists checkpoints with atomic-replace semantics so a
// crash mid-write never leaves a corrupt or ambiguous cursor.
type CheckpointStore struct {
	path string
}

// NewCheckpointStore creates a store writing to the given file path.
func NewCheckpointStore(path string) *CheckpointStore {
	return &CheckpointStore{path: path}
}

// Path returns the checkpoint file location.
func (s *CheckpointStore) Path() string { return s.path }

// Save durably writes the checkpoint: write to a temp file in the same
// directory, fsync, then rename over the target.
func (s *CheckpointStore) Save(cp Checkpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	raw, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing checkpoint: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing checkpoint: %w", err)
	}
	return nil
}

// Load reads the persisted checkpoint. A missing file returns (nil, nil):
// no run has checkpointed here yet.
func (s *CheckpointStore) Load() (*Checkpoint, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	return &cp, nil
}

// ValidateAgainst rejects a checkpoint written for different plan bytes
// or one whose cursor falls outside the plan.
func (cp *Checkpoint) ValidateAgainst(p *plan.Plan) error {
	if cp.PlanHash != p.Hash {
		return NewPlanMismatchError(cp.PlanHash, p.Hash)
	}
	return cp.ValidateCursor(p)
}

// ValidateCursor rejects a cursor outside the plan's slice and step
// range. Holds independently of the hash check: an operator may override
// a plan mismatch, but never resume onto a step the plan does not have.
func (cp *Checkpoint) ValidateCursor(p *plan.Plan) error {
	if cp.Cursor.Slice < p.General.FirstSlice || cp.Cursor.StepIndex < 0 || cp.Cursor.StepIndex >= len(p.Steps) {
		return NewConfigurationError(
			fmt.Sprintf("checkpoint cursor (%d, %d) is outside the plan", cp.Cursor.Slice, cp.Cursor.StepIndex), nil)
	}
	return nil
}
