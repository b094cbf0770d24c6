// Package testutil provides in-memory fakes shared by the engine test
// suites: a scriptable domain adapter and a canned sweep source.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/journeycrm/automation/pkg/adapter"
	"github.com/journeycrm/automation/pkg/models"
)

// FakeEntity is the entity handle the fake adapter resolves refs to.
type FakeEntity struct {
	Ref    models.EntityRef
	Fields map[string]any
}

// AppliedAction records one ApplyAction call.
type AppliedAction struct {
	Type   models.ActionType
	Config any
	Entity *FakeEntity
}

// FakeAdapter is an in-memory Adapter. Seed entities with AddEntity and
// script failures per action type with FailWith.
type FakeAdapter struct {
	mu       sync.Mutex
	entities map[models.EntityRef]*FakeEntity
	applied  []AppliedAction
	failures map[models.ActionType]error
}

// NewFakeAdapter returns an empty fake adapter.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		entities: make(map[models.EntityRef]*FakeEntity),
		failures: make(map[models.ActionType]error),
	}
}

// AddEntity registers an entity under the given ref.
func (a *FakeAdapter) AddEntity(ref models.EntityRef, fields map[string]any) *FakeEntity {
	a.mu.Lock()
	defer a.mu.Unlock()

	entity := &FakeEntity{Ref: ref, Fields: fields}
	a.entities[ref] = entity
	return entity
}

// FailWith makes every ApplyAction call for the given type return err.
func (a *FakeAdapter) FailWith(actionType models.ActionType, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[actionType] = err
}

func (a *FakeAdapter) ResolveEntity(_ context.Context, ref models.EntityRef) (adapter.Entity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entity, ok := a.entities[ref]
	if !ok {
		return nil, adapter.ErrEntityNotFound
	}
	return entity, nil
}

func (a *FakeAdapter) ApplyAction(_ context.Context, actionType models.ActionType, config any, entity adapter.Entity) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.failures[actionType]; err != nil {
		return err
	}

	fake, _ := entity.(*FakeEntity)
	a.applied = append(a.applied, AppliedAction{Type: actionType, Config: config, Entity: fake})
	return nil
}

func (a *FakeAdapter) FieldValue(entity adapter.Entity, field string) (any, bool) {
	fake, ok := entity.(*FakeEntity)
	if !ok || fake == nil {
		return nil, false
	}

	v, ok := fake.Fields[field]
	return v, ok
}

// Applied returns a snapshot of the recorded ApplyAction calls.
func (a *FakeAdapter) Applied() []AppliedAction {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]AppliedAction, len(a.applied))
	copy(out, a.applied)
	return out
}

// AppliedTypes returns the action types in call order.
func (a *FakeAdapter) AppliedTypes() []models.ActionType {
	applied := a.Applied()

	types := make([]models.ActionType, len(applied))
	for i, call := range applied {
		types[i] = call.Type
	}
	return types
}

// FakeSweepSource returns canned due tasks and inactive entities.
type FakeSweepSource struct {
	Tasks    []adapter.DueTask
	Inactive map[string][]adapter.InactiveEntity
}

func (s *FakeSweepSource) DueTasks(_ context.Context, now time.Time, lookahead time.Duration, includeOverdue bool) ([]adapter.DueTask, error) {
	horizon := now.Add(lookahead)

	var out []adapter.DueTask
	for _, task := range s.Tasks {
		if task.DueAt.After(horizon) {
			continue
		}
		if task.DueAt.Before(now) && !includeOverdue {
			continue
		}
		out = append(out, task)
	}
	return out, nil
}

func (s *FakeSweepSource) InactiveEntities(_ context.Context, entityType string, now time.Time, window time.Duration) ([]adapter.InactiveEntity, error) {
	cutoff := now.Add(-window)

	var out []adapter.InactiveEntity
	for _, entity := range s.Inactive[entityType] {
		if entity.LastActivityAt.Before(cutoff) {
			out = append(out, entity)
		}
	}
	return out, nil
}
