// Package executor runs the action list of a workflow execution against a
// CRM entity, one step at a time, persisting the cursor after every step so
// a paused or failed execution records exactly where it stopped.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/journeycrm/automation/pkg/adapter"
	"github.com/journeycrm/automation/pkg/audit"
	"github.com/journeycrm/automation/pkg/businesshours"
	"github.com/journeycrm/automation/pkg/condition"
	"github.com/journeycrm/automation/pkg/models"
	"github.com/journeycrm/automation/pkg/persistence"
	"github.com/journeycrm/automation/pkg/queue"
)

// DefaultApprovalTimeoutHours applies when a request_approval action does
// not set its own timeout.
const DefaultApprovalTimeoutHours = 48

// Result reports how an Execute call ended.
type Result struct {
	Status       models.ExecutionStatus
	PausedTaskID string
	StepsRun     int
}

// Executor steps executions through their action lists.
type Executor struct {
	executions persistence.ExecutionRepository
	approvals  persistence.ApprovalRepository
	domain     adapter.Adapter
	jobs       queue.JobQueue
	audit      audit.Publisher
	calendar   *businesshours.Calendar
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an executor. The calendar drives approval deadlines; nil
// falls back to the default business-hours schedule in UTC.
func New(
	executions persistence.ExecutionRepository,
	approvals persistence.ApprovalRepository,
	domain adapter.Adapter,
	jobs queue.JobQueue,
	auditBus audit.Publisher,
	calendar *businesshours.Calendar,
	logger *slog.Logger,
) *Executor {
	if calendar == nil {
		calendar = businesshours.NewCalendar(time.UTC)
	}

	return &Executor{
		executions: executions,
		approvals:  approvals,
		domain:     domain,
		jobs:       jobs,
		audit:      auditBus,
		calendar:   calendar,
		logger:     logger.With("module", "executor"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs execution from its current step until it completes, fails,
// or pauses for approval. The same method serves fresh executions and
// resumes after an approval; the cursor in the execution row decides where
// work picks up.
func (e *Executor) Execute(ctx context.Context, execution *models.WorkflowExecution, def *models.WorkflowDefinition) (*Result, error) {
	logger := e.logger.With(
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"org_id", execution.OrgID)

	if execution.Status.Terminal() {
		logger.Debug("Execution already terminal", "status", execution.Status)
		return &Result{Status: execution.Status}, nil
	}

	var entity adapter.Entity
	if !execution.Entity.IsZero() {
		var err error
		entity, err = e.domain.ResolveEntity(ctx, execution.Entity)
		if err != nil {
			if errors.Is(err, adapter.ErrEntityNotFound) {
				return e.fail(ctx, execution, execution.CurrentStep,
					fmt.Sprintf("entity %s/%s no longer exists", execution.Entity.Type, execution.Entity.ID))
			}
			return nil, persistence.NewExecutionError("resolve entity", execution.ID, execution.WorkflowID, err)
		}
	}

	result := &Result{}

	for i := execution.CurrentStep; i < len(def.Actions); i++ {
		// Re-read before each step so a cancel or decision made elsewhere
		// stops the loop instead of racing it.
		current, err := e.executions.GetByID(ctx, execution.ID)
		if err != nil {
			return nil, persistence.NewExecutionError("reload", execution.ID, execution.WorkflowID, err)
		}
		if current.Status != models.ExecutionRunning {
			logger.Info("Execution no longer running, stopping", "status", current.Status)
			result.Status = current.Status
			return result, nil
		}

		action := def.Actions[i]
		stepLogger := logger.With("step", i, "action_type", action.Type, "action_id", action.ID)

		if action.Condition != nil && !e.stepConditionHolds(action.Condition, execution, entity) {
			stepLogger.Debug("Step condition not met, skipping")
			execution.CurrentStep = i + 1
			if err := e.executions.Update(ctx, execution); err != nil {
				return nil, persistence.NewExecutionError("advance", execution.ID, execution.WorkflowID, err)
			}
			continue
		}

		switch action.Type {
		case models.ActionRequestApproval:
			return e.pauseForApproval(ctx, execution, action, i)

		case models.ActionCallWebhook:
			e.enqueueWebhook(ctx, execution, action, stepLogger)

		default:
			config, err := action.DecodeConfig()
			if err != nil {
				return e.fail(ctx, execution, i, fmt.Sprintf("invalid configuration for %s: %v", action.Type, err))
			}

			if err := e.domain.ApplyAction(ctx, action.Type, config, entity); err != nil {
				if action.BestEffort {
					stepLogger.Warn("Best-effort action failed, continuing", "error", err)
					break
				}
				return e.fail(ctx, execution, i, fmt.Sprintf("action %s failed: %v", action.Type, err))
			}
		}

		result.StepsRun++
		execution.CurrentStep = i + 1
		if err := e.executions.Update(ctx, execution); err != nil {
			return nil, persistence.NewExecutionError("advance", execution.ID, execution.WorkflowID, err)
		}
	}

	return e.complete(ctx, execution, result)
}

// stepConditionHolds evaluates an inline action condition. Trigger payload
// values win over entity fields, matching trigger-level conditions.
func (e *Executor) stepConditionHolds(cond *models.Condition, execution *models.WorkflowExecution, entity adapter.Entity) bool {
	if v, ok := execution.TriggerData[cond.Field]; ok {
		return condition.Evaluate(cond.Operator, v, cond.Value)
	}

	if entity != nil {
		if v, ok := e.domain.FieldValue(entity, cond.Field); ok {
			return condition.Evaluate(cond.Operator, v, cond.Value)
		}
	}

	return condition.Evaluate(cond.Operator, nil, cond.Value)
}

func (e *Executor) pauseForApproval(ctx context.Context, execution *models.WorkflowExecution, action *models.ActionItem, step int) (*Result, error) {
	config, err := action.ApprovalConfig()
	if err != nil {
		return e.fail(ctx, execution, step, fmt.Sprintf("invalid approval configuration: %v", err))
	}

	timeout := config.TimeoutBusinessHours
	if timeout <= 0 {
		timeout = DefaultApprovalTimeoutHours
	}

	now := e.now()
	task := &models.ApprovalTask{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ExecutionID:    execution.ID,
		OrgID:          execution.OrgID,
		ApproverPolicy: config.ApproverPolicy,
		DueBy:          e.calendar.Add(now, timeout),
		Status:         models.ApprovalPending,
		CreatedAt:      now,
	}

	if err := e.approvals.Create(ctx, task); err != nil {
		return nil, persistence.NewExecutionError("create approval", execution.ID, execution.WorkflowID, err)
	}

	// The cursor already points past the approval step so a resume starts
	// at the next action.
	execution.Status = models.ExecutionPausedForApproval
	execution.CurrentStep = step + 1
	execution.PausedTaskID = &task.ID

	if err := e.executions.Update(ctx, execution); err != nil {
		return nil, persistence.NewExecutionError("pause", execution.ID, execution.WorkflowID, err)
	}

	e.publish(ctx, audit.NewApprovalEvent(audit.ApprovalRequested, task, "system"))
	e.publish(ctx, audit.NewExecutionEvent(audit.ExecutionPaused, execution, "system",
		models.ExecutionRunning, models.ExecutionPausedForApproval))

	e.logger.Info("Execution paused for approval",
		"execution_id", execution.ID,
		"task_id", task.ID,
		"due_by", task.DueBy)

	return &Result{Status: models.ExecutionPausedForApproval, PausedTaskID: task.ID}, nil
}

// enqueueWebhook hands the delivery to the background dispatcher. A queue
// outage must not fail the execution, so enqueue errors are logged and the
// step counts as done.
func (e *Executor) enqueueWebhook(ctx context.Context, execution *models.WorkflowExecution, action *models.ActionItem, logger *slog.Logger) {
	config, err := action.WebhookConfig()
	if err != nil {
		logger.Warn("Invalid webhook configuration, skipping delivery", "error", err)
		return
	}

	job := &queue.Job{
		Type: queue.JobTypeWebhookDispatch,
		Payload: map[string]any{
			"execution_id": execution.ID,
			"workflow_id":  execution.WorkflowID,
			"org_id":       execution.OrgID,
			"url":          config.URL,
			"method":       config.Method,
			"headers":      config.Headers,
			"body":         config.Body,
			"attempts":     config.Retry.Attempts,
			"delay_sec":    config.Retry.DelaySec,
		},
	}

	if _, err := e.jobs.Enqueue(ctx, job); err != nil {
		logger.Warn("Failed to enqueue webhook delivery", "url", config.URL, "error", err)
	}
}

func (e *Executor) fail(ctx context.Context, execution *models.WorkflowExecution, step int, reason string) (*Result, error) {
	now := e.now()
	execution.Status = models.ExecutionFailed
	execution.CurrentStep = step
	execution.CompletedAt = &now
	execution.LastError = reason

	if err := e.executions.Update(ctx, execution); err != nil {
		return nil, persistence.NewExecutionError("record failure", execution.ID, execution.WorkflowID, err)
	}

	e.publish(ctx, audit.NewExecutionEvent(audit.ExecutionFailed, execution, "system",
		models.ExecutionRunning, models.ExecutionFailed))

	e.logger.Warn("Execution failed",
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"step", step,
		"error", reason)

	return &Result{Status: models.ExecutionFailed}, nil
}

func (e *Executor) complete(ctx context.Context, execution *models.WorkflowExecution, result *Result) (*Result, error) {
	now := e.now()
	execution.Status = models.ExecutionCompleted
	execution.CompletedAt = &now
	execution.PausedTaskID = nil

	if err := e.executions.Update(ctx, execution); err != nil {
		return nil, persistence.NewExecutionError("complete", execution.ID, execution.WorkflowID, err)
	}

	e.publish(ctx, audit.NewExecutionEvent(audit.ExecutionCompleted, execution, "system",
		models.ExecutionRunning, models.ExecutionCompleted))

	e.logger.Info("Execution completed",
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"steps_run", result.StepsRun)

	result.Status = models.ExecutionCompleted
	return result, nil
}

func (e *Executor) publish(ctx context.Context, event audit.Event) {
	if err := e.audit.Publish(ctx, event); err != nil {
		e.logger.Warn("Failed to publish audit event", "event_type", event.Type, "error", err)
	}
}
