// Package memory provides an in-process persistence implementation used in
// tests and for local development. All conditional-write semantics of the
// persistence contract are honored under a single mutex.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/journeycrm/automation/pkg/models"
	"github.com/journeycrm/automation/pkg/persistence"
)

// Persistence is the in-memory store.
type Persistence struct {
	mu          sync.Mutex
	definitions map[string]*models.WorkflowDefinition
	executions  map[string]*models.WorkflowExecution
	approvals   map[string]*models.ApprovalTask
	sweepMarks  map[string]time.Time
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		definitions: make(map[string]*models.WorkflowDefinition),
		executions:  make(map[string]*models.WorkflowExecution),
		approvals:   make(map[string]*models.ApprovalTask),
		sweepMarks:  make(map[string]time.Time),
	}
}

func (p *Persistence) Definitions() persistence.DefinitionRepository { return (*definitionRepo)(p) }
func (p *Persistence) Executions() persistence.ExecutionRepository   { return (*executionRepo)(p) }
func (p *Persistence) Approvals() persistence.ApprovalRepository     { return (*approvalRepo)(p) }
func (p *Persistence) SweepMarks() persistence.SweepMarkRepository   { return (*sweepMarkRepo)(p) }

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }
func (p *Persistence) Close(_ context.Context) error       { return nil }

// Definitions

type definitionRepo Persistence

func (r *definitionRepo) List(_ context.Context, orgID string) ([]*models.WorkflowDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	defs := make([]*models.WorkflowDefinition, 0)
	for _, def := range r.definitions {
		if def.OrgID == orgID && def.DeletedAt == nil {
			defs = append(defs, cloneDefinition(def))
		}
	}

	return defs, nil
}

func (r *definitionRepo) ListByTriggerType(_ context.Context, orgID string, triggerType models.TriggerType) ([]*models.WorkflowDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	defs := make([]*models.WorkflowDefinition, 0)
	for _, def := range r.definitions {
		if def.OrgID == orgID && def.TriggerType == triggerType && def.DeletedAt == nil {
			defs = append(defs, cloneDefinition(def))
		}
	}

	return defs, nil
}

func (r *definitionRepo) ListEnabledByTriggerType(_ context.Context, triggerType models.TriggerType) ([]*models.WorkflowDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	defs := make([]*models.WorkflowDefinition, 0)
	for _, def := range r.definitions {
		if def.TriggerType == triggerType && def.Enabled && def.DeletedAt == nil {
			defs = append(defs, cloneDefinition(def))
		}
	}

	return defs, nil
}

func (r *definitionRepo) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.definitions[id]
	if !ok || def.DeletedAt != nil {
		return nil, persistence.ErrDefinitionNotFound
	}

	return cloneDefinition(def), nil
}

func (r *definitionRepo) Save(_ context.Context, def *models.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}

	def.UpdatedAt = now
	r.definitions[def.ID] = cloneDefinition(def)

	return nil
}

func (r *definitionRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.definitions[id]
	if !ok {
		return persistence.ErrDefinitionNotFound
	}

	now := time.Now().UTC()
	def.DeletedAt = &now

	return nil
}

// Executions

type executionRepo Persistence

func (r *executionRepo) Create(_ context.Context, execution *models.WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.executions[execution.ID] = cloneExecution(execution)

	return nil
}

func (r *executionRepo) CreateIfNoneActive(_ context.Context, execution *models.WorkflowExecution) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.executions {
		if existing.WorkflowID == execution.WorkflowID &&
			existing.Entity == execution.Entity &&
			!existing.Status.Terminal() {
			return false, nil
		}
	}

	r.executions[execution.ID] = cloneExecution(execution)

	return true, nil
}

func (r *executionRepo) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, ok := r.executions[id]
	if !ok {
		return nil, persistence.ErrExecutionNotFound
	}

	return cloneExecution(execution), nil
}

func (r *executionRepo) ListByWorkflow(_ context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	executions := make([]*models.WorkflowExecution, 0)
	for _, execution := range r.executions {
		if execution.WorkflowID == workflowID {
			executions = append(executions, cloneExecution(execution))
		}
	}

	return executions, nil
}

func (r *executionRepo) Update(_ context.Context, execution *models.WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.executions[execution.ID]; !ok {
		return persistence.ErrExecutionNotFound
	}

	r.executions[execution.ID] = cloneExecution(execution)

	return nil
}

func (r *executionRepo) TransitionStatus(_ context.Context, id string, from, to models.ExecutionStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, ok := r.executions[id]
	if !ok {
		return false, persistence.ErrExecutionNotFound
	}

	if execution.Status != from {
		return false, nil
	}

	execution.Status = to
	if to.Terminal() {
		now := time.Now().UTC()
		execution.CompletedAt = &now
	}

	return true, nil
}

// Approvals

type approvalRepo Persistence

func (r *approvalRepo) Create(_ context.Context, task *models.ApprovalTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.approvals[task.ID] = cloneApproval(task)

	return nil
}

func (r *approvalRepo) GetByID(_ context.Context, id string) (*models.ApprovalTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.approvals[id]
	if !ok {
		return nil, persistence.ErrApprovalNotFound
	}

	return cloneApproval(task), nil
}

func (r *approvalRepo) Resolve(_ context.Context, id string, status models.ApprovalStatus, actorID string, decidedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.approvals[id]
	if !ok {
		return false, persistence.ErrApprovalNotFound
	}

	if task.Status != models.ApprovalPending {
		return false, nil
	}

	task.Status = status
	task.DecidedBy = actorID
	task.DecidedAt = &decidedAt

	return true, nil
}

func (r *approvalRepo) ListPendingDue(_ context.Context, before time.Time) ([]*models.ApprovalTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tasks := make([]*models.ApprovalTask, 0)
	for _, task := range r.approvals {
		if task.Status == models.ApprovalPending && task.DueBy.Before(before) {
			tasks = append(tasks, cloneApproval(task))
		}
	}

	return tasks, nil
}

// Sweep marks

type sweepMarkRepo Persistence

func (r *sweepMarkRepo) Claim(_ context.Context, key string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, claimed := r.sweepMarks[key]; claimed {
		return false, nil
	}

	r.sweepMarks[key] = at

	return true, nil
}

// Cloning keeps callers from mutating stored records through shared pointers.

func cloneDefinition(def *models.WorkflowDefinition) *models.WorkflowDefinition {
	clone := *def
	clone.TriggerConfig = cloneMap(def.TriggerConfig)
	clone.Conditions = append([]models.Condition(nil), def.Conditions...)

	clone.Actions = make([]*models.ActionItem, len(def.Actions))
	for i, action := range def.Actions {
		actionClone := *action
		actionClone.Configuration = cloneMap(action.Configuration)
		clone.Actions[i] = &actionClone
	}

	return &clone
}

func cloneExecution(execution *models.WorkflowExecution) *models.WorkflowExecution {
	clone := *execution
	clone.TriggerData = cloneMap(execution.TriggerData)

	return &clone
}

func cloneApproval(task *models.ApprovalTask) *models.ApprovalTask {
	clone := *task
	return &clone
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	clone := make(map[string]any, len(m))
	for k, v := range m {
		clone[k] = v
	}

	return clone
}
