package executor

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journeycrm/automation/pkg/audit"
	"github.com/journeycrm/automation/pkg/models"
	"github.com/journeycrm/automation/pkg/persistence/memory"
	queuememory "github.com/journeycrm/automation/pkg/queue/memory"
	"github.com/journeycrm/automation/pkg/testutil"
)

type fixture struct {
	persistence *memory.Persistence
	domain      *testutil.FakeAdapter
	jobs        *queuememory.Queue
	audit       *audit.MemoryPublisher
	executor    *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	p := memory.NewPersistence()
	domain := testutil.NewFakeAdapter()
	jobs := queuememory.NewQueue()
	bus := audit.NewMemoryPublisher()

	t.Cleanup(func() { _ = jobs.Close(context.Background()) })

	return &fixture{
		persistence: p,
		domain:      domain,
		jobs:        jobs,
		audit:       bus,
		executor:    New(p.Executions(), p.Approvals(), domain, jobs, bus, nil, slog.New(slog.DiscardHandler)),
	}
}

func leadRef() models.EntityRef {
	return models.EntityRef{Type: "lead", ID: "lead-1"}
}

func runningExecution(t *testing.T, f *fixture, workflowID string) *models.WorkflowExecution {
	t.Helper()

	execution := &models.WorkflowExecution{
		ID:            "exec-1",
		WorkflowID:    workflowID,
		OrgID:         "org-1",
		Entity:        leadRef(),
		TriggerSource: "crm",
		TriggerData:   map[string]any{"to_status": "qualified"},
		Status:        models.ExecutionRunning,
		StartedAt:     time.Now().UTC(),
	}
	require.NoError(t, f.persistence.Executions().Create(context.Background(), execution))
	return execution
}

func TestExecuteRunsAllActions(t *testing.T) {
	f := newFixture(t)
	f.domain.AddEntity(leadRef(), map[string]any{"stage": "matching"})

	def := &models.WorkflowDefinition{
		ID:    "wf-1",
		OrgID: "org-1",
		Actions: []*models.ActionItem{
			{ID: "a1", Type: models.ActionCreateTask, Configuration: map[string]any{"title": "Call the lead"}},
			{ID: "a2", Type: models.ActionSendEmail, Configuration: map[string]any{"template_id": "welcome"}},
		},
	}
	execution := runningExecution(t, f, def.ID)

	result, err := f.executor.Execute(context.Background(), execution, def)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionCompleted, result.Status)
	assert.Equal(t, 2, result.StepsRun)
	assert.Equal(t, []models.ActionType{models.ActionCreateTask, models.ActionSendEmail}, f.domain.AppliedTypes())

	stored, err := f.persistence.Executions().GetByID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
	assert.Len(t, f.audit.EventsOfType(audit.ExecutionCompleted), 1)
}

func TestExecutePausesForApproval(t *testing.T) {
	f := newFixture(t)
	f.domain.AddEntity(leadRef(), map[string]any{})

	def := &models.WorkflowDefinition{
		ID:    "wf-1",
		OrgID: "org-1",
		Actions: []*models.ActionItem{
			{ID: "a1", Type: models.ActionCreateTask, Configuration: map[string]any{"title": "Prepare contract"}},
			{ID: "a2", Type: models.ActionRequestApproval, Configuration: map[string]any{"approver_policy": "org_admin"}},
			{ID: "a3", Type: models.ActionSendEmail, Configuration: map[string]any{"template_id": "contract"}},
		},
	}
	execution := runningExecution(t, f, def.ID)

	result, err := f.executor.Execute(context.Background(), execution, def)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionPausedForApproval, result.Status)
	require.NotEmpty(t, result.PausedTaskID)

	// Only the step before the approval ran.
	assert.Equal(t, []models.ActionType{models.ActionCreateTask}, f.domain.AppliedTypes())

	stored, err := f.persistence.Executions().GetByID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionPausedForApproval, stored.Status)
	assert.Equal(t, 2, stored.CurrentStep)
	require.NotNil(t, stored.PausedTaskID)
	assert.Equal(t, result.PausedTaskID, *stored.PausedTaskID)

	task, err := f.persistence.Approvals().GetByID(context.Background(), result.PausedTaskID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, task.Status)
	assert.Equal(t, "org_admin", task.ApproverPolicy)
	assert.True(t, task.DueBy.After(task.CreatedAt))

	assert.Len(t, f.audit.EventsOfType(audit.ApprovalRequested), 1)
	assert.Len(t, f.audit.EventsOfType(audit.ExecutionPaused), 1)
}

func TestExecuteFailureRecordsStep(t *testing.T) {
	f := newFixture(t)
	f.domain.AddEntity(leadRef(), map[string]any{})
	f.domain.FailWith(models.ActionSendEmail, errors.New("template not found"))

	def := &models.WorkflowDefinition{
		ID:    "wf-1",
		OrgID: "org-1",
		Actions: []*models.ActionItem{
			{ID: "a1", Type: models.ActionCreateTask, Configuration: map[string]any{"title": "Call"}},
			{ID: "a2", Type: models.ActionSendEmail, Configuration: map[string]any{"template_id": "missing"}},
			{ID: "a3", Type: models.ActionAddNote, Configuration: map[string]any{"body": "never reached"}},
		},
	}
	execution := runningExecution(t, f, def.ID)

	result, err := f.executor.Execute(context.Background(), execution, def)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, result.Status)

	stored, err := f.persistence.Executions().GetByID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, stored.Status)
	assert.Equal(t, 1, stored.CurrentStep)
	assert.Contains(t, stored.LastError, "template not found")
	assert.NotNil(t, stored.CompletedAt)

	// The step after the failure never ran.
	assert.Equal(t, []models.ActionType{models.ActionCreateTask}, f.domain.AppliedTypes())
	assert.Len(t, f.audit.EventsOfType(audit.ExecutionFailed), 1)
}

func TestExecuteBestEffortContinues(t *testing.T) {
	f := newFixture(t)
	f.domain.AddEntity(leadRef(), map[string]any{})
	f.domain.FailWith(models.ActionSendNotification, errors.New("push gateway down"))

	def := &models.WorkflowDefinition{
		ID:    "wf-1",
		OrgID: "org-1",
		Actions: []*models.ActionItem{
			{ID: "a1", Type: models.ActionSendNotification, BestEffort: true, Configuration: map[string]any{"message": "hi"}},
			{ID: "a2", Type: models.ActionCreateTask, Configuration: map[string]any{"title": "Call"}},
		},
	}
	execution := runningExecution(t, f, def.ID)

	result, err := f.executor.Execute(context.Background(), execution, def)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, result.Status)
	assert.Equal(t, []models.ActionType{models.ActionCreateTask}, f.domain.AppliedTypes())
}

func TestExecuteInlineConditionSkipsStep(t *testing.T) {
	f := newFixture(t)
	f.domain.AddEntity(leadRef(), map[string]any{"budget_band": "standard"})

	def := &models.WorkflowDefinition{
		ID:    "wf-1",
		OrgID: "org-1",
		Actions: []*models.ActionItem{
			{
				ID:            "a1",
				Type:          models.ActionSendEmail,
				Condition:     &models.Condition{Field: "budget_band", Operator: "equals", Value: "premium"},
				Configuration: map[string]any{"template_id": "vip"},
			},
			{ID: "a2", Type: models.ActionCreateTask, Configuration: map[string]any{"title": "Standard follow-up"}},
		},
	}
	execution := runningExecution(t, f, def.ID)

	result, err := f.executor.Execute(context.Background(), execution, def)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionCompleted, result.Status)
	assert.Equal(t, []models.ActionType{models.ActionCreateTask}, f.domain.AppliedTypes())
}

func TestExecuteMissingEntityFails(t *testing.T) {
	f := newFixture(t)

	def := &models.WorkflowDefinition{
		ID:    "wf-1",
		OrgID: "org-1",
		Actions: []*models.ActionItem{
			{ID: "a1", Type: models.ActionCreateTask, Configuration: map[string]any{"title": "Call"}},
		},
	}
	execution := runningExecution(t, f, def.ID)

	result, err := f.executor.Execute(context.Background(), execution, def)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, result.Status)

	stored, err := f.persistence.Executions().GetByID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.LastError, "no longer exists")
	assert.Empty(t, f.domain.AppliedTypes())
}

func TestExecuteWebhookEnqueuesJob(t *testing.T) {
	f := newFixture(t)
	f.domain.AddEntity(leadRef(), map[string]any{})

	def := &models.WorkflowDefinition{
		ID:    "wf-1",
		OrgID: "org-1",
		Actions: []*models.ActionItem{
			{ID: "a1", Type: models.ActionCallWebhook, Configuration: map[string]any{
				"url":    "https://hooks.example.com/crm",
				"method": "POST",
			}},
		},
	}
	execution := runningExecution(t, f, def.ID)

	result, err := f.executor.Execute(context.Background(), execution, def)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, result.Status)
	assert.Equal(t, 1, f.jobs.Len())

	// Delivery is the dispatcher's job, not the adapter's.
	assert.Empty(t, f.domain.AppliedTypes())
}

func TestExecuteStopsWhenCancelledExternally(t *testing.T) {
	f := newFixture(t)
	f.domain.AddEntity(leadRef(), map[string]any{})

	def := &models.WorkflowDefinition{
		ID:    "wf-1",
		OrgID: "org-1",
		Actions: []*models.ActionItem{
			{ID: "a1", Type: models.ActionCreateTask, Configuration: map[string]any{"title": "Call"}},
		},
	}
	execution := runningExecution(t, f, def.ID)

	// Cancelled out of band between creation and execution.
	ok, err := f.persistence.Executions().TransitionStatus(context.Background(), execution.ID,
		models.ExecutionRunning, models.ExecutionCancelled)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := f.executor.Execute(context.Background(), execution, def)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCancelled, result.Status)
	assert.Empty(t, f.domain.AppliedTypes())
}
