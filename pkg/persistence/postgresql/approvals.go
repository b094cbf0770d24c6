package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/journeycrm/automation/pkg/models"
	"github.com/journeycrm/automation/pkg/persistence"
)

// ApprovalRepository stores approval gates backed by PostgreSQL.
type ApprovalRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const approvalColumns = `
	id
  , execution_id
  , org_id
  , approver_policy
  , due_by
  , status
  , decided_by
  , decided_at
  , created_at
`

func (r *ApprovalRepository) Create(ctx context.Context, task *models.ApprovalTask) error {
	query := `
		INSERT INTO approval_tasks (
			id, execution_id, org_id, approver_policy, due_by, status,
			decided_by, decided_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		task.ID, task.ExecutionID, task.OrgID, task.ApproverPolicy,
		task.DueBy, string(task.Status), task.DecidedBy, task.DecidedAt, task.CreatedAt,
	)
	if err != nil {
		return &persistence.ApprovalError{Op: "Create", TaskID: task.ID, Err: err}
	}

	return nil
}

func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*models.ApprovalTask, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM approval_tasks
		WHERE id = $1
	`

	task, err := scanApproval(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrApprovalNotFound
		}

		return nil, &persistence.ApprovalError{Op: "GetByID", TaskID: id, Err: err}
	}

	return task, nil
}

// Resolve is the single-writer guard: the row only moves out of pending
// once, whichever of {decision, expiry} updates it first.
func (r *ApprovalRepository) Resolve(ctx context.Context, id string, status models.ApprovalStatus, actorID string, decidedAt time.Time) (bool, error) {
	query := `
		UPDATE approval_tasks SET
			status = $2,
			decided_by = $3,
			decided_at = $4
		WHERE id = $1 AND status = 'pending'
	`

	result, err := r.db.ExecContext(ctx, query, id, string(status), actorID, decidedAt)
	if err != nil {
		return false, &persistence.ApprovalError{Op: "Resolve", TaskID: id, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, &persistence.ApprovalError{Op: "Resolve", TaskID: id, Err: err}
	}

	return affected > 0, nil
}

func (r *ApprovalRepository) ListPendingDue(ctx context.Context, before time.Time) ([]*models.ApprovalTask, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM approval_tasks
		WHERE status = 'pending' AND due_by < $1
		ORDER BY due_by
	`

	rows, err := r.db.QueryContext(ctx, query, before)
	if err != nil {
		return nil, &persistence.ApprovalError{Op: "ListPendingDue", Err: err}
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	tasks := make([]*models.ApprovalTask, 0)

	for rows.Next() {
		task, err := scanApproval(rows)
		if err != nil {
			return nil, &persistence.ApprovalError{Op: "ListPendingDue", Err: err}
		}

		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, &persistence.ApprovalError{Op: "ListPendingDue", Err: err}
	}

	return tasks, nil
}

func scanApproval(row rowScanner) (*models.ApprovalTask, error) {
	var (
		task   models.ApprovalTask
		status string
	)

	err := row.Scan(
		&task.ID, &task.ExecutionID, &task.OrgID, &task.ApproverPolicy,
		&task.DueBy, &status, &task.DecidedBy, &task.DecidedAt, &task.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = models.ApprovalStatus(status)

	return &task, nil
}
