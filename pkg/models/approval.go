package models

import "time"

// ApprovalStatus is the resolution state of a human approval gate.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
	ApprovalExpired  ApprovalStatus = "expired"
)

// Resolved reports whether the task has left the pending state.
func (s ApprovalStatus) Resolved() bool {
	return s != ApprovalPending
}

// ApprovalDecision is a human verdict on a pending task.
type ApprovalDecision string

const (
	DecisionApprove ApprovalDecision = "approve"
	DecisionDeny    ApprovalDecision = "deny"
)

// ApprovalTask is a human-facing gate suspending one execution. Exactly one
// of {external decision, expiry sweep} resolves a given task; the loser of
// that race is rejected.
type ApprovalTask struct {
	ID             string         `json:"id"`
	ExecutionID    string         `json:"execution_id" validate:"required"`
	OrgID          string         `json:"org_id"       validate:"required"`
	ApproverPolicy string         `json:"approver_policy"`
	DueBy          time.Time      `json:"due_by"` // Must be strictly after CreatedAt
	Status         ApprovalStatus `json:"status"`
	DecidedBy      string         `json:"decided_by,omitempty"`
	DecidedAt      *time.Time     `json:"decided_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
