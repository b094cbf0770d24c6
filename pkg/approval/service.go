// Package approval resolves pending approval tasks: a decision resumes or
// cancels the paused execution, and the sweep driver expires tasks whose
// business-hours deadline has passed. Every path takes the first write and
// makes later writers lose, so double clicks and races never double-run.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/journeycrm/automation/pkg/adapter"
	"github.com/journeycrm/automation/pkg/audit"
	"github.com/journeycrm/automation/pkg/executor"
	"github.com/journeycrm/automation/pkg/models"
	"github.com/journeycrm/automation/pkg/persistence"
)

// ErrAlreadyResolved indicates the task was decided or expired before this
// decision arrived.
var ErrAlreadyResolved = errors.New("approval task already resolved")

// ErrUnknownDecision indicates a decision value other than approve or deny.
var ErrUnknownDecision = errors.New("unknown approval decision")

// ResumeResult reports what happened to the paused execution after a
// decision.
type ResumeResult struct {
	Task      *models.ApprovalTask
	Execution *models.WorkflowExecution
	Outcome   models.ExecutionStatus
}

// Service owns the approval task lifecycle.
type Service struct {
	definitions persistence.DefinitionRepository
	executions  persistence.ExecutionRepository
	approvals   persistence.ApprovalRepository
	executor    *executor.Executor
	domain      adapter.Adapter
	audit       audit.Publisher
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(
	definitions persistence.DefinitionRepository,
	executions persistence.ExecutionRepository,
	approvals persistence.ApprovalRepository,
	exec *executor.Executor,
	domain adapter.Adapter,
	auditBus audit.Publisher,
	logger *slog.Logger,
) *Service {
	return &Service{
		definitions: definitions,
		executions:  executions,
		approvals:   approvals,
		executor:    exec,
		domain:      domain,
		audit:       auditBus,
		logger:      logger.With("module", "approval"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Resolve applies a user decision to a pending task. The first decision
// wins; anything after it, including a decision racing an expiry sweep,
// returns ErrAlreadyResolved.
func (s *Service) Resolve(ctx context.Context, taskID string, decision models.ApprovalDecision, actorID string) (*ResumeResult, error) {
	var status models.ApprovalStatus
	switch decision {
	case models.DecisionApprove:
		status = models.ApprovalApproved
	case models.DecisionDeny:
		status = models.ApprovalDenied
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDecision, decision)
	}

	won, err := s.approvals.Resolve(ctx, taskID, status, actorID, s.now())
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrAlreadyResolved
	}

	task, err := s.approvals.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Approval decided",
		"task_id", taskID,
		"execution_id", task.ExecutionID,
		"decision", decision,
		"actor", actorID)

	if status == models.ApprovalApproved {
		s.publish(ctx, audit.NewApprovalEvent(audit.ApprovalApproved, task, actorID))
		return s.resume(ctx, task, actorID)
	}

	s.publish(ctx, audit.NewApprovalEvent(audit.ApprovalDenied, task, actorID))
	return s.cancel(ctx, task, actorID)
}

// Expire times out a pending task past its deadline. Safe to call from
// concurrent sweepers; losers of the status write return ErrAlreadyResolved.
func (s *Service) Expire(ctx context.Context, task *models.ApprovalTask) (*models.WorkflowExecution, error) {
	won, err := s.approvals.Resolve(ctx, task.ID, models.ApprovalExpired, "system", s.now())
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrAlreadyResolved
	}

	s.publish(ctx, audit.NewApprovalEvent(audit.ApprovalExpired, task, "system"))

	execution, err := s.transition(ctx, task, models.ExecutionExpired, "approval request expired")
	if err != nil {
		return nil, err
	}

	s.publish(ctx, audit.NewExecutionEvent(audit.ExecutionExpired, execution, "system",
		models.ExecutionPausedForApproval, models.ExecutionExpired))

	s.notifyExpiry(ctx, execution, task)

	s.logger.Info("Approval expired",
		"task_id", task.ID,
		"execution_id", task.ExecutionID,
		"due_by", task.DueBy)

	return execution, nil
}

// resume moves the execution back to running and continues it from the
// stored cursor against the workflow definition as it exists now, not as it
// was when the execution paused.
func (s *Service) resume(ctx context.Context, task *models.ApprovalTask, actorID string) (*ResumeResult, error) {
	won, err := s.executions.TransitionStatus(ctx, task.ExecutionID,
		models.ExecutionPausedForApproval, models.ExecutionRunning)
	if err != nil {
		return nil, err
	}

	execution, err := s.executions.GetByID(ctx, task.ExecutionID)
	if err != nil {
		return nil, err
	}

	if !won {
		// Cancelled or otherwise moved on while the decision was in flight.
		s.logger.Warn("Execution not resumable", "execution_id", task.ExecutionID, "status", execution.Status)
		return &ResumeResult{Task: task, Execution: execution, Outcome: execution.Status}, nil
	}

	execution.Status = models.ExecutionRunning
	execution.PausedTaskID = nil
	if err := s.executions.Update(ctx, execution); err != nil {
		return nil, persistence.NewExecutionError("clear pause", execution.ID, execution.WorkflowID, err)
	}

	s.publish(ctx, audit.NewExecutionEvent(audit.ExecutionResumed, execution, actorID,
		models.ExecutionPausedForApproval, models.ExecutionRunning))

	def, err := s.definitions.GetByID(ctx, execution.WorkflowID)
	if err != nil {
		if persistence.IsDefinitionNotFound(err) {
			now := s.now()
			execution.Status = models.ExecutionFailed
			execution.CompletedAt = &now
			execution.LastError = "workflow definition deleted while paused"
			if updateErr := s.executions.Update(ctx, execution); updateErr != nil {
				return nil, updateErr
			}
			return &ResumeResult{Task: task, Execution: execution, Outcome: models.ExecutionFailed}, nil
		}
		return nil, err
	}

	result, err := s.executor.Execute(ctx, execution, def)
	if err != nil {
		return nil, err
	}

	return &ResumeResult{Task: task, Execution: execution, Outcome: result.Status}, nil
}

func (s *Service) cancel(ctx context.Context, task *models.ApprovalTask, actorID string) (*ResumeResult, error) {
	execution, err := s.transition(ctx, task, models.ExecutionCancelled, "approval denied")
	if err != nil {
		return nil, err
	}

	s.publish(ctx, audit.NewExecutionEvent(audit.ExecutionCancelled, execution, actorID,
		models.ExecutionPausedForApproval, models.ExecutionCancelled))

	return &ResumeResult{Task: task, Execution: execution, Outcome: models.ExecutionCancelled}, nil
}

func (s *Service) transition(ctx context.Context, task *models.ApprovalTask, to models.ExecutionStatus, reason string) (*models.WorkflowExecution, error) {
	if _, err := s.executions.TransitionStatus(ctx, task.ExecutionID,
		models.ExecutionPausedForApproval, to); err != nil {
		return nil, err
	}

	execution, err := s.executions.GetByID(ctx, task.ExecutionID)
	if err != nil {
		return nil, err
	}

	if execution.Status == to && execution.LastError == "" {
		execution.LastError = reason
		execution.PausedTaskID = nil
		if err := s.executions.Update(ctx, execution); err != nil {
			return nil, persistence.NewExecutionError("record reason", execution.ID, execution.WorkflowID, err)
		}
	}

	return execution, nil
}

// notifyExpiry tells the requester their approval timed out. Best effort;
// the expiry stands even if the notification cannot be delivered.
func (s *Service) notifyExpiry(ctx context.Context, execution *models.WorkflowExecution, task *models.ApprovalTask) {
	config := models.SendNotificationConfig{
		Message:    fmt.Sprintf("Approval request %s expired without a decision", task.ID),
		Recipients: task.ApproverPolicy,
	}

	var entity adapter.Entity
	if !execution.Entity.IsZero() {
		entity, _ = s.domain.ResolveEntity(ctx, execution.Entity)
	}

	if err := s.domain.ApplyAction(ctx, models.ActionSendNotification, config, entity); err != nil {
		s.logger.Warn("Failed to send expiry notification", "task_id", task.ID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, event audit.Event) {
	if err := s.audit.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish audit event", "event_type", event.Type, "error", err)
	}
}
