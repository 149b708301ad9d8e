package models

import (
	"time"
)

// Phase is one of the three pipeline stages the scheduler triggers.
type Phase string

const (
	PhaseCollect    Phase = "COLLECT"
	PhaseSynthesize Phase = "SYNTHESIZE"
	PhasePublish    Phase = "PUBLISH"
)

// RunStatus is the lifecycle state of a pipeline run record.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// maxRunErrorLen bounds the error excerpt stored on a run record.
const maxRunErrorLen = 500

// PipelineRun is the audit record for one phase execution. Created at phase
// start, updated exactly once at phase end, pruned after the retention window.
type PipelineRun struct {
	ID          string                 `badgerhold:"key" json:"id"`
	WorkspaceID string                 `badgerhold:"index" json:"workspace_id"`
	Phase       Phase                  `badgerhold:"index" json:"phase"`
	Status      RunStatus              `badgerhold:"index" json:"status"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Duration returns the run's wall-clock duration, or zero while running.
func (r *PipelineRun) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// SetError stores a truncated error excerpt on the run record.
func (r *PipelineRun) SetError(err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	if len(msg) > maxRunErrorLen {
		msg = msg[:maxRunErrorLen]
	}
	r.Error = msg
}
