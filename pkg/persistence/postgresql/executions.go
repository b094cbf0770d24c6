package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/journeycrm/automation/pkg/models"
	"github.com/journeycrm/automation/pkg/persistence"
)

// ExecutionRepository is the execution ledger backed by PostgreSQL.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const executionColumns = `
	id
  , workflow_id
  , org_id
  , entity_type
  , entity_id
  , trigger_source
  , trigger_data
  , status
  , current_step
  , paused_task_id
  , started_at
  , completed_at
  , last_error
`

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	triggerDataJSON, err := json.Marshal(execution.TriggerData)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, execution.WorkflowID, err)
	}

	query := `
		INSERT INTO workflow_executions (
			id, workflow_id, org_id, entity_type, entity_id, trigger_source,
			trigger_data, status, current_step, paused_task_id, started_at,
			completed_at, last_error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID, execution.WorkflowID, execution.OrgID,
		execution.Entity.Type, execution.Entity.ID, execution.TriggerSource,
		triggerDataJSON, string(execution.Status), execution.CurrentStep,
		execution.PausedTaskID, execution.StartedAt, execution.CompletedAt,
		execution.LastError,
	)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, execution.WorkflowID, err)
	}

	return nil
}

// CreateIfNoneActive relies on the partial unique index over non-terminal
// executions: a conflicting insert is skipped rather than failed, so a
// re-delivered event degrades to a no-op.
func (r *ExecutionRepository) CreateIfNoneActive(ctx context.Context, execution *models.WorkflowExecution) (bool, error) {
	triggerDataJSON, err := json.Marshal(execution.TriggerData)
	if err != nil {
		return false, persistence.NewExecutionError("CreateIfNoneActive", execution.ID, execution.WorkflowID, err)
	}

	query := `
		INSERT INTO workflow_executions (
			id, workflow_id, org_id, entity_type, entity_id, trigger_source,
			trigger_data, status, current_step, paused_task_id, started_at,
			completed_at, last_error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (workflow_id, entity_type, entity_id)
			WHERE status IN ('running', 'paused_for_approval')
			DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID, execution.WorkflowID, execution.OrgID,
		execution.Entity.Type, execution.Entity.ID, execution.TriggerSource,
		triggerDataJSON, string(execution.Status), execution.CurrentStep,
		execution.PausedTaskID, execution.StartedAt, execution.CompletedAt,
		execution.LastError,
	)
	if err != nil {
		return false, persistence.NewExecutionError("CreateIfNoneActive", execution.ID, execution.WorkflowID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, persistence.NewExecutionError("CreateIfNoneActive", execution.ID, execution.WorkflowID, err)
	}

	return affected > 0, nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE id = $1
	`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, persistence.NewExecutionError("GetByID", id, "", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, persistence.NewExecutionError("ListByWorkflow", "", workflowID, err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, persistence.NewExecutionError("ListByWorkflow", "", workflowID, err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewExecutionError("ListByWorkflow", "", workflowID, err)
	}

	return executions, nil
}

func (r *ExecutionRepository) Update(ctx context.Context, execution *models.WorkflowExecution) error {
	query := `
		UPDATE workflow_executions SET
			status = $2,
			current_step = $3,
			paused_task_id = $4,
			completed_at = $5,
			last_error = $6
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID, string(execution.Status), execution.CurrentStep,
		execution.PausedTaskID, execution.CompletedAt, execution.LastError,
	)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, execution.WorkflowID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, execution.WorkflowID, err)
	}

	if affected == 0 {
		return persistence.ErrExecutionNotFound
	}

	return nil
}

func (r *ExecutionRepository) TransitionStatus(ctx context.Context, id string, from, to models.ExecutionStatus) (bool, error) {
	query := `
		UPDATE workflow_executions SET
			status = $3,
			completed_at = CASE WHEN $4 THEN NOW() ELSE completed_at END
		WHERE id = $1 AND status = $2
	`

	result, err := r.db.ExecContext(ctx, query, id, string(from), string(to), to.Terminal())
	if err != nil {
		return false, persistence.NewExecutionError("TransitionStatus", id, "", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, persistence.NewExecutionError("TransitionStatus", id, "", err)
	}

	return affected > 0, nil
}

func scanExecution(row rowScanner) (*models.WorkflowExecution, error) {
	var (
		execution       models.WorkflowExecution
		status          string
		triggerDataJSON []byte
	)

	err := row.Scan(
		&execution.ID, &execution.WorkflowID, &execution.OrgID,
		&execution.Entity.Type, &execution.Entity.ID, &execution.TriggerSource,
		&triggerDataJSON, &status, &execution.CurrentStep,
		&execution.PausedTaskID, &execution.StartedAt, &execution.CompletedAt,
		&execution.LastError,
	)
	if err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatus(status)

	if err := json.Unmarshal(triggerDataJSON, &execution.TriggerData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger data: %w", err)
	}

	return &execution, nil
}
