// Package postgresql provides PostgreSQL persistence for the automation
// engine. Idempotency-sensitive writes use conditional SQL (insert-or-skip,
// update-where-still-pending) so concurrent worker processes degrade to
// no-ops instead of double-firing.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/journeycrm/automation/pkg/persistence"
	"github.com/journeycrm/automation/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db             *sql.DB
	logger         *slog.Logger
	definitionRepo *DefinitionRepository
	executionRepo  *ExecutionRepository
	approvalRepo   *ApprovalRepository
	sweepMarkRepo  *SweepMarkRepository
}

// NewPersistence connects, runs migrations and returns the store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:             database,
		logger:         logger,
		definitionRepo: &DefinitionRepository{db: database, logger: logger},
		executionRepo:  &ExecutionRepository{db: database, logger: logger},
		approvalRepo:   &ApprovalRepository{db: database, logger: logger},
		sweepMarkRepo:  &SweepMarkRepository{db: database, logger: logger},
	}, nil
}

func (p *Persistence) Definitions() persistence.DefinitionRepository { return p.definitionRepo }
func (p *Persistence) Executions() persistence.ExecutionRepository   { return p.executionRepo }
func (p *Persistence) Approvals() persistence.ApprovalRepository     { return p.approvalRepo }
func (p *Persistence) SweepMarks() persistence.SweepMarkRepository   { return p.sweepMarkRepo }

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
