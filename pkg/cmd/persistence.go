package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/journeycrm/automation/pkg/persistence"
	"github.com/journeycrm/automation/pkg/persistence/memory"
	"github.com/journeycrm/automation/pkg/persistence/postgresql"
)

// NewPersistence selects a persistence provider from the database URL
// scheme. Anything that is not PostgreSQL gets the in-memory store, which
// is only good for development and tests.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		logger.Warn("No database URL configured, using in-memory persistence")
		return memory.NewPersistence(), nil
	}
}

func parseProvider(url string) string {
	scheme, _, found := strings.Cut(url, "://")
	if !found {
		return ""
	}
	return scheme
}
