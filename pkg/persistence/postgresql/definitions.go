package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/journeycrm/automation/pkg/models"
	"github.com/journeycrm/automation/pkg/persistence"
)

// DefinitionRepository handles workflow-definition database operations.
type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const definitionColumns = `
	id
  , org_id
  , name
  , description
  , scope
  , owner_id
  , trigger_type
  , trigger_config
  , conditions
  , actions
  , enabled
  , requires_review
  , created_at
  , updated_at
  , deleted_at
`

func (r *DefinitionRepository) List(ctx context.Context, orgID string) ([]*models.WorkflowDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE org_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`

	return r.queryDefinitions(ctx, query, orgID)
}

func (r *DefinitionRepository) ListByTriggerType(ctx context.Context, orgID string, triggerType models.TriggerType) ([]*models.WorkflowDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE org_id = $1 AND trigger_type = $2 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`

	return r.queryDefinitions(ctx, query, orgID, string(triggerType))
}

func (r *DefinitionRepository) ListEnabledByTriggerType(ctx context.Context, triggerType models.TriggerType) ([]*models.WorkflowDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE trigger_type = $1 AND enabled AND deleted_at IS NULL
		ORDER BY created_at DESC
	`

	return r.queryDefinitions(ctx, query, string(triggerType))
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE id = $1 AND deleted_at IS NULL
	`

	row := r.db.QueryRowContext(ctx, query, id)

	def, err := scanDefinition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrDefinitionNotFound
		}

		return nil, fmt.Errorf("failed to scan workflow definition: %w", err)
	}

	return def, nil
}

func (r *DefinitionRepository) Save(ctx context.Context, def *models.WorkflowDefinition) error {
	now := time.Now().UTC()

	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}

	def.UpdatedAt = now

	if def.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate definition ID: %w", err)
		}

		def.ID = id.String()
	}

	triggerConfigJSON, err := json.Marshal(def.TriggerConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	conditionsJSON, err := json.Marshal(def.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	actionsJSON, err := json.Marshal(def.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	query := `
		INSERT INTO workflow_definitions (
			id, org_id, name, description, scope, owner_id, trigger_type,
			trigger_config, conditions, actions, enabled, requires_review,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			scope = EXCLUDED.scope,
			owner_id = EXCLUDED.owner_id,
			trigger_type = EXCLUDED.trigger_type,
			trigger_config = EXCLUDED.trigger_config,
			conditions = EXCLUDED.conditions,
			actions = EXCLUDED.actions,
			enabled = EXCLUDED.enabled,
			requires_review = EXCLUDED.requires_review,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		def.ID, def.OrgID, def.Name, def.Description, string(def.Scope), def.OwnerID,
		string(def.TriggerType), triggerConfigJSON, conditionsJSON, actionsJSON,
		def.Enabled, def.RequiresReview, def.CreatedAt, def.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow definition: %w", err)
	}

	return nil
}

func (r *DefinitionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE workflow_definitions SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL", id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow definition: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrDefinitionNotFound
	}

	return nil
}

func (r *DefinitionRepository) queryDefinitions(ctx context.Context, query string, args ...any) ([]*models.WorkflowDefinition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow definitions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	defs := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow definition: %w", err)
		}

		defs = append(defs, def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow definitions: %w", err)
	}

	return defs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*models.WorkflowDefinition, error) {
	var (
		def               models.WorkflowDefinition
		scope             string
		triggerType       string
		triggerConfigJSON []byte
		conditionsJSON    []byte
		actionsJSON       []byte
	)

	err := row.Scan(
		&def.ID, &def.OrgID, &def.Name, &def.Description, &scope, &def.OwnerID,
		&triggerType, &triggerConfigJSON, &conditionsJSON, &actionsJSON,
		&def.Enabled, &def.RequiresReview, &def.CreatedAt, &def.UpdatedAt, &def.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	def.Scope = models.Scope(scope)
	def.TriggerType = models.TriggerType(triggerType)

	if err := json.Unmarshal(triggerConfigJSON, &def.TriggerConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
	}

	if err := json.Unmarshal(conditionsJSON, &def.Conditions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
	}

	if err := json.Unmarshal(actionsJSON, &def.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}

	return &def, nil
}
