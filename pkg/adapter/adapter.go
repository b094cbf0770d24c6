// Package adapter is the single seam between the engine and concrete
// business entities. The engine stores only opaque (type, id) refs and
// delegates every entity read and mutation to an implementation of Adapter.
package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/journeycrm/automation/pkg/models"
)

// ErrEntityNotFound indicates the referenced entity no longer exists.
var ErrEntityNotFound = errors.New("entity not found")

// Entity is an opaque handle to a resolved business record. Only the adapter
// that produced it knows its shape.
type Entity any

// Adapter resolves entities, reads their fields and applies action side
// effects. All calls are expected to complete synchronously; the engine does
// no retries of its own.
type Adapter interface {
	// ResolveEntity loads the referenced entity. Returns ErrEntityNotFound
	// (possibly wrapped) when the ref points at nothing.
	ResolveEntity(ctx context.Context, ref models.EntityRef) (Entity, error)

	// ApplyAction performs the side effect described by the action type and
	// its typed configuration against the entity. Entity may be nil for
	// firings with no target, e.g. cron schedules.
	ApplyAction(ctx context.Context, actionType models.ActionType, config any, entity Entity) error

	// FieldValue reads a named field off the entity. The second return is
	// false when the entity has no such field.
	FieldValue(entity Entity, field string) (any, bool)
}

// DueTask is a task whose due time falls inside a sweep lookahead window.
type DueTask struct {
	Ref     models.EntityRef
	OrgID   string
	OwnerID string
	DueAt   time.Time
}

// InactiveEntity is an entity with no qualifying activity inside the window.
type InactiveEntity struct {
	Ref            models.EntityRef
	OrgID          string
	OwnerID        string
	LastActivityAt time.Time
}

// SweepSource is the read-side the sweep driver queries for time-based
// triggers. It is separate from Adapter so request-path callers never carry
// sweep-only capability.
type SweepSource interface {
	// DueTasks returns tasks due within the lookahead window ending at
	// now.Add(lookahead), including already-overdue ones when includeOverdue
	// is set.
	DueTasks(ctx context.Context, now time.Time, lookahead time.Duration, includeOverdue bool) ([]DueTask, error)

	// InactiveEntities returns entities of the given type with no qualifying
	// activity since now.Add(-window).
	InactiveEntities(ctx context.Context, entityType string, now time.Time, window time.Duration) ([]InactiveEntity, error)
}
