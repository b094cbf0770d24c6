// Package audit defines the audit trail events the engine emits on every
// execution state transition, approval decision and expiry, and the
// publishers that carry them.
package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/journeycrm/automation/pkg/models"
)

// EventType identifies an audit event kind.
type EventType string

// Topic is the bus topic audit events are published on.
const Topic = "automation.audit"

const (
	ExecutionStarted   EventType = "execution.started"
	ExecutionCompleted EventType = "execution.completed"
	ExecutionFailed    EventType = "execution.failed"
	ExecutionPaused    EventType = "execution.paused"
	ExecutionResumed   EventType = "execution.resumed"
	ExecutionCancelled EventType = "execution.cancelled"
	ExecutionExpired   EventType = "execution.expired"
	ExecutionSkipped   EventType = "execution.skipped" // Duplicate-delivery no-op

	ApprovalRequested EventType = "approval.requested"
	ApprovalApproved  EventType = "approval.approved"
	ApprovalDenied    EventType = "approval.denied"
	ApprovalExpired   EventType = "approval.expired"

	WebhookDeliveryFailed EventType = "webhook.delivery_failed"
)

// Event is one audit trail entry.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	OrgID       string         `json:"org_id"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	ExecutionID string         `json:"execution_id,omitempty"`
	TaskID      string         `json:"task_id,omitempty"`
	Actor       string         `json:"actor,omitempty"` // User id, or "system" for sweep-driven transitions
	FromStatus  string         `json:"from_status,omitempty"`
	ToStatus    string         `json:"to_status,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Details     map[string]any `json:"details,omitempty"`
}

// NewExecutionEvent builds an audit entry for an execution transition.
func NewExecutionEvent(eventType EventType, execution *models.WorkflowExecution, actor string, from, to models.ExecutionStatus) Event {
	return Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		OrgID:       execution.OrgID,
		WorkflowID:  execution.WorkflowID,
		ExecutionID: execution.ID,
		Actor:       actor,
		FromStatus:  string(from),
		ToStatus:    string(to),
		Timestamp:   time.Now().UTC(),
	}
}

// NewApprovalEvent builds an audit entry for an approval task transition.
func NewApprovalEvent(eventType EventType, task *models.ApprovalTask, actor string) Event {
	return Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		OrgID:       task.OrgID,
		ExecutionID: task.ExecutionID,
		TaskID:      task.ID,
		Actor:       actor,
		Timestamp:   time.Now().UTC(),
	}
}
