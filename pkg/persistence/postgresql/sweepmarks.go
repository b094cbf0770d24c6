package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// SweepMarkRepository stores sweep dedupe keys backed by PostgreSQL.
type SweepMarkRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// Claim is insert-or-skip: two sweeps racing on the same key see exactly one
// winner, without any lock.
func (r *SweepMarkRepository) Claim(ctx context.Context, key string, at time.Time) (bool, error) {
	query := `
		INSERT INTO sweep_marks (key, claimed_at)
		VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query, key, at)
	if err != nil {
		return false, fmt.Errorf("failed to claim sweep mark %s: %w", key, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows for sweep mark %s: %w", key, err)
	}

	return affected > 0, nil
}
