package stores

import (
	"context"
	"database/sql"
	"time"
)

// RunStatus represents the recorded status of an experiment run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusAborted   RunStatus = "aborted"
)

// StepResultStatus represents the recorded result of one step execution.
type StepResultStatus string

const (
	StepResultCompleted StepResultStatus = "completed"
	StepResultFailed    StepResultStatus = "failed"
	StepResultSkipped   StepResultStatus = "skipped"
)

// EventLevel represents the severity level of an event.
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run represents one experiment run against a plan file.
type Run struct {
	ID          string     `json:"id"`
	PlanPath    string     `json:"plan_path"`
	PlanHash    string     `json:"plan_hash"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Metadata    string     `json:"metadata"` // JSON blob
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// StepResult represents one step execution on one slice.
type StepResult struct {
	ID          string           `json:"id"`
	RunID       string           `json:"run_id"`
	Slice       int              `json:"slice"`
	StepName    string           `json:"step_name"`
	StepKind    string           `json:"step_kind"`
	Status      StepResultStatus `json:"status"`
	Artifacts   string           `json:"artifacts"` // JSON array of paths
	Error       *string          `json:"error,omitempty"`
	Attempts    int              `json:"attempts"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Event represents an append-only log event tied to a run.
type Event struct {
	ID        int64      `json:"id"`
	RunID     *string    `json:"run_id,omitempty"`
	Slice     *int       `json:"slice,omitempty"`
	StepName  *string    `json:"step_name,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// Store defines the interface for the run history layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunStatus(ctx context.Context, id string, status RunStatus, err *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	LatestRunForPlan(ctx context.Context, planHash string) (*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Step result operations
	RecordStepResult(ctx context.Context, result *StepResult) error
	ListStepResults(ctx context.Context, runID string) ([]*StepResult, error)
	CountStepResults(ctx context.Context, runID string, status StepResultStatus) (int, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
