package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/journeycrm/automation/pkg/models"
	"github.com/journeycrm/automation/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefinitionRepository_Scoping(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	require.NoError(t, store.Definitions().Save(ctx, &models.WorkflowDefinition{
		ID: "wf-1", OrgID: "org-a", Name: "One", TriggerType: models.TriggerStatusChanged, Enabled: true,
	}))
	require.NoError(t, store.Definitions().Save(ctx, &models.WorkflowDefinition{
		ID: "wf-2", OrgID: "org-b", Name: "Two", TriggerType: models.TriggerStatusChanged, Enabled: true,
	}))
	require.NoError(t, store.Definitions().Save(ctx, &models.WorkflowDefinition{
		ID: "wf-3", OrgID: "org-a", Name: "Three", TriggerType: models.TriggerScheduledCron, Enabled: false,
	}))

	defs, err := store.Definitions().List(ctx, "org-a")
	require.NoError(t, err)
	assert.Len(t, defs, 2)

	defs, err = store.Definitions().ListByTriggerType(ctx, "org-a", models.TriggerStatusChanged)
	require.NoError(t, err)
	assert.Len(t, defs, 1)

	// Cross-org scan for the sweep driver only returns enabled definitions.
	defs, err = store.Definitions().ListEnabledByTriggerType(ctx, models.TriggerScheduledCron)
	require.NoError(t, err)
	assert.Empty(t, defs)

	defs, err = store.Definitions().ListEnabledByTriggerType(ctx, models.TriggerStatusChanged)
	require.NoError(t, err)
	assert.Len(t, defs, 2)
}

func TestDefinitionRepository_DeleteHidesDefinition(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	require.NoError(t, store.Definitions().Save(ctx, &models.WorkflowDefinition{
		ID: "wf-1", OrgID: "org-a", Name: "One", TriggerType: models.TriggerStatusChanged,
	}))
	require.NoError(t, store.Definitions().Delete(ctx, "wf-1"))

	_, err := store.Definitions().GetByID(ctx, "wf-1")
	assert.True(t, persistence.IsDefinitionNotFound(err))
}

func TestExecutionRepository_CreateIfNoneActive(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	entity := models.EntityRef{Type: "surrogate", ID: "s-1"}

	created, err := store.Executions().CreateIfNoneActive(ctx, &models.WorkflowExecution{
		ID: "ex-1", WorkflowID: "wf-1", OrgID: "org-a", Entity: entity, Status: models.ExecutionRunning,
	})
	require.NoError(t, err)
	assert.True(t, created)

	// Second attempt for the same pair is a benign no-op.
	created, err = store.Executions().CreateIfNoneActive(ctx, &models.WorkflowExecution{
		ID: "ex-2", WorkflowID: "wf-1", OrgID: "org-a", Entity: entity, Status: models.ExecutionRunning,
	})
	require.NoError(t, err)
	assert.False(t, created)

	// A terminal execution frees the slot.
	won, err := store.Executions().TransitionStatus(ctx, "ex-1", models.ExecutionRunning, models.ExecutionCancelled)
	require.NoError(t, err)
	require.True(t, won)

	created, err = store.Executions().CreateIfNoneActive(ctx, &models.WorkflowExecution{
		ID: "ex-3", WorkflowID: "wf-1", OrgID: "org-a", Entity: entity, Status: models.ExecutionRunning,
	})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestExecutionRepository_TransitionStatusGuard(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	require.NoError(t, store.Executions().Create(ctx, &models.WorkflowExecution{
		ID: "ex-1", WorkflowID: "wf-1", OrgID: "org-a", Status: models.ExecutionPausedForApproval,
	}))

	won, err := store.Executions().TransitionStatus(ctx, "ex-1", models.ExecutionPausedForApproval, models.ExecutionExpired)
	require.NoError(t, err)
	assert.True(t, won)

	// The guard fails once the expected status no longer holds.
	won, err = store.Executions().TransitionStatus(ctx, "ex-1", models.ExecutionPausedForApproval, models.ExecutionCancelled)
	require.NoError(t, err)
	assert.False(t, won)

	execution, err := store.Executions().GetByID(ctx, "ex-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionExpired, execution.Status)
	assert.NotNil(t, execution.CompletedAt)
}

func TestApprovalRepository_ResolveFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	require.NoError(t, store.Approvals().Create(ctx, &models.ApprovalTask{
		ID: "ap-1", ExecutionID: "ex-1", OrgID: "org-a", Status: models.ApprovalPending,
		DueBy: time.Now().Add(time.Hour),
	}))

	now := time.Now().UTC()

	won, err := store.Approvals().Resolve(ctx, "ap-1", models.ApprovalApproved, "user-a", now)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.Approvals().Resolve(ctx, "ap-1", models.ApprovalDenied, "user-b", now)
	require.NoError(t, err)
	assert.False(t, won)

	task, err := store.Approvals().GetByID(ctx, "ap-1")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, task.Status)
	assert.Equal(t, "user-a", task.DecidedBy)
}

func TestApprovalRepository_ListPendingDue(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()
	now := time.Now().UTC()

	require.NoError(t, store.Approvals().Create(ctx, &models.ApprovalTask{
		ID: "ap-due", ExecutionID: "ex-1", OrgID: "org-a", Status: models.ApprovalPending, DueBy: now.Add(-time.Minute),
	}))
	require.NoError(t, store.Approvals().Create(ctx, &models.ApprovalTask{
		ID: "ap-later", ExecutionID: "ex-2", OrgID: "org-a", Status: models.ApprovalPending, DueBy: now.Add(time.Hour),
	}))

	due, err := store.Approvals().ListPendingDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "ap-due", due[0].ID)
}

func TestSweepMarkRepository_ClaimOnce(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	var wg sync.WaitGroup

	wins := make(chan bool, 10)

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			won, err := store.SweepMarks().Claim(ctx, "cron:wf-1:202609010900", time.Now())
			assert.NoError(t, err)
			wins <- won
		}()
	}

	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}

	assert.Equal(t, 1, winners)
}
