package models

import "time"

// ExecutionStatus is the lifecycle state of one workflow firing.
type ExecutionStatus string

const (
	ExecutionRunning           ExecutionStatus = "running"
	ExecutionCompleted         ExecutionStatus = "completed"
	ExecutionFailed            ExecutionStatus = "failed"
	ExecutionPausedForApproval ExecutionStatus = "paused_for_approval"
	ExecutionExpired           ExecutionStatus = "expired"
	ExecutionCancelled         ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionExpired, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// EntityRef is an opaque (entity type tag, id) pair. The engine never knows
// concrete entity shapes; all type-specific behavior lives behind the domain
// adapter.
type EntityRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// IsZero reports whether the ref points at nothing, as with cron firings that
// have no target entity.
func (r EntityRef) IsZero() bool {
	return r.Type == "" && r.ID == ""
}

// WorkflowExecution is the durable record of one workflow-trigger firing.
// It is never deleted, only transitioned to a terminal status.
type WorkflowExecution struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflow_id" validate:"required"`
	OrgID         string          `json:"org_id"      validate:"required"`
	Entity        EntityRef       `json:"entity"`
	TriggerSource string          `json:"trigger_source"` // Event name or sweep tag that fired this run
	TriggerData   map[string]any  `json:"trigger_data,omitempty"`
	Status        ExecutionStatus `json:"status"`
	CurrentStep   int             `json:"current_step"`
	PausedTaskID  *string         `json:"paused_task_id,omitempty"` // Approval task holding this execution, cleared on resume
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
}
