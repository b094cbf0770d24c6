// Package persistence provides the data storage abstraction for workflow
// definitions, executions, approval tasks and sweep dedupe marks.
package persistence

import (
	"context"
	"time"

	"github.com/journeycrm/automation/pkg/models"
)

// Persistence bundles the repositories the engine needs. Implementations
// must make every mutating operation safe under concurrent processes:
// conditional writes degrade duplicate attempts into no-ops instead of
// double-fires.
type Persistence interface {
	Definitions() DefinitionRepository
	Executions() ExecutionRepository
	Approvals() ApprovalRepository
	SweepMarks() SweepMarkRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// DefinitionRepository stores workflow definitions. The engine only reads
// them; writes come from the definition CRUD surface.
type DefinitionRepository interface {
	List(ctx context.Context, orgID string) ([]*models.WorkflowDefinition, error)
	ListByTriggerType(ctx context.Context, orgID string, triggerType models.TriggerType) ([]*models.WorkflowDefinition, error)
	// ListEnabledByTriggerType scans across organizations; the sweep driver
	// uses it to find every schedule it has to evaluate.
	ListEnabledByTriggerType(ctx context.Context, triggerType models.TriggerType) ([]*models.WorkflowDefinition, error)
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	Save(ctx context.Context, def *models.WorkflowDefinition) error
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository is the execution ledger. Records are never deleted.
type ExecutionRepository interface {
	// Create unconditionally inserts a new execution record.
	Create(ctx context.Context, execution *models.WorkflowExecution) error

	// CreateIfNoneActive inserts the execution only if no non-terminal
	// execution exists for the same (workflow, entity) pair. Returns false
	// when an active execution already holds the slot; that is a benign
	// no-op, not an error.
	CreateIfNoneActive(ctx context.Context, execution *models.WorkflowExecution) (bool, error)

	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error)

	// Update persists the execution's mutable fields (status, step cursor,
	// paused task ref, error, completion time).
	Update(ctx context.Context, execution *models.WorkflowExecution) error

	// TransitionStatus moves the execution from one status to another only
	// if it still holds the expected status. Returns false when the guard
	// fails, which callers treat as "someone else got there first".
	TransitionStatus(ctx context.Context, id string, from, to models.ExecutionStatus) (bool, error)
}

// ApprovalRepository stores human approval gates.
type ApprovalRepository interface {
	Create(ctx context.Context, task *models.ApprovalTask) error
	GetByID(ctx context.Context, id string) (*models.ApprovalTask, error)

	// Resolve transitions the task out of pending with a single-writer
	// guard: the update applies only while the task is still pending.
	// Returns false when the task was already resolved.
	Resolve(ctx context.Context, id string, status models.ApprovalStatus, actorID string, decidedAt time.Time) (bool, error)

	// ListPendingDue returns pending tasks whose due-by has elapsed.
	ListPendingDue(ctx context.Context, before time.Time) ([]*models.ApprovalTask, error)
}

// SweepMarkRepository stores dedupe keys for sweep firings.
type SweepMarkRepository interface {
	// Claim records the key if nobody has, insert-or-skip. Returns true for
	// the caller that won the claim; concurrent sweeps lose quietly.
	Claim(ctx context.Context, key string, at time.Time) (bool, error)
}
