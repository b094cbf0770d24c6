package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journeycrm/automation/pkg/audit"
	"github.com/journeycrm/automation/pkg/models"
	"github.com/journeycrm/automation/pkg/persistence/memory"
	"github.com/journeycrm/automation/pkg/queue"
	queuememory "github.com/journeycrm/automation/pkg/queue/memory"
	"github.com/journeycrm/automation/pkg/testutil"
)

type fixture struct {
	persistence *memory.Persistence
	domain      *testutil.FakeAdapter
	jobs        *queuememory.Queue
	audit       *audit.MemoryPublisher
	engine      *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	p := memory.NewPersistence()
	domain := testutil.NewFakeAdapter()
	jobs := queuememory.NewQueue()
	bus := audit.NewMemoryPublisher()

	t.Cleanup(func() { _ = jobs.Close(context.Background()) })

	eng := New(Config{
		Persistence: p,
		Adapter:     domain,
		Queue:       jobs,
		Audit:       bus,
		Logger:      slog.New(slog.DiscardHandler),
	})

	return &fixture{persistence: p, domain: domain, jobs: jobs, audit: bus, engine: eng}
}

// qualifiedLeadDef is a follow-up workflow: when a lead becomes qualified,
// create a task, get an approval, then send the intro email.
func qualifiedLeadDef() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:          "wf-qualified",
		OrgID:       "org-1",
		Scope:       models.ScopeOrg,
		Name:        "Qualified lead follow-up",
		TriggerType: models.TriggerStatusChanged,
		TriggerConfig: map[string]any{
			"entity_type": "lead",
			"to_status":   "qualified",
		},
		Conditions: []models.Condition{
			{Field: "to_status", Operator: "equals", Value: "qualified"},
		},
		Actions: []*models.ActionItem{
			{ID: "a1", Type: models.ActionCreateTask, Configuration: map[string]any{"title": "Intro call"}},
			{ID: "a2", Type: models.ActionRequestApproval, Configuration: map[string]any{"approver_policy": "org_admin"}},
			{ID: "a3", Type: models.ActionSendEmail, Configuration: map[string]any{"template_id": "intro"}},
		},
		Enabled: true,
	}
}

func qualifiedEvent() models.TriggerEvent {
	return models.TriggerEvent{
		TriggerType: models.TriggerStatusChanged,
		OrgID:       "org-1",
		ActorID:     "user-1",
		Entity:      models.EntityRef{Type: "lead", ID: "lead-1"},
		Source:      "crm",
		Data: map[string]any{
			"from_status": "new",
			"to_status":   "qualified",
		},
		OccurredAt: time.Now().UTC(),
	}
}

func TestHandleEventRunsThroughApprovalGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.persistence.Definitions().Save(ctx, qualifiedLeadDef()))
	f.domain.AddEntity(models.EntityRef{Type: "lead", ID: "lead-1"}, map[string]any{"stage": "intake"})

	require.NoError(t, f.engine.HandleEvent(ctx, qualifiedEvent()))

	// The first step ran, then the gate paused the execution.
	assert.Equal(t, []models.ActionType{models.ActionCreateTask}, f.domain.AppliedTypes())

	executions, err := f.persistence.Executions().ListByWorkflow(ctx, "wf-qualified")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionPausedForApproval, executions[0].Status)
	require.NotNil(t, executions[0].PausedTaskID)

	// Approving resumes past the gate and finishes the list.
	result, err := f.engine.ResolveApproval(ctx, *executions[0].PausedTaskID, models.DecisionApprove, "manager-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, result.Outcome)
	assert.Equal(t, []models.ActionType{models.ActionCreateTask, models.ActionSendEmail}, f.domain.AppliedTypes())

	assert.Len(t, f.audit.EventsOfType(audit.ExecutionStarted), 1)
	assert.Len(t, f.audit.EventsOfType(audit.ExecutionCompleted), 1)
}

func TestHandleEventNonMatchingStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.persistence.Definitions().Save(ctx, qualifiedLeadDef()))
	f.domain.AddEntity(models.EntityRef{Type: "lead", ID: "lead-1"}, map[string]any{})

	event := qualifiedEvent()
	event.Data["to_status"] = "disqualified"

	require.NoError(t, f.engine.HandleEvent(ctx, event))

	executions, err := f.persistence.Executions().ListByWorkflow(ctx, "wf-qualified")
	require.NoError(t, err)
	assert.Empty(t, executions)
	assert.Empty(t, f.domain.AppliedTypes())
}

func TestHandleEventDuplicateDeliveryCollapses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.persistence.Definitions().Save(ctx, qualifiedLeadDef()))
	f.domain.AddEntity(models.EntityRef{Type: "lead", ID: "lead-1"}, map[string]any{})

	// First delivery pauses at the approval gate, keeping the execution
	// active; the redelivery must not start a second one.
	require.NoError(t, f.engine.HandleEvent(ctx, qualifiedEvent()))
	require.NoError(t, f.engine.HandleEvent(ctx, qualifiedEvent()))

	executions, err := f.persistence.Executions().ListByWorkflow(ctx, "wf-qualified")
	require.NoError(t, err)
	assert.Len(t, executions, 1)

	skipped := f.audit.EventsOfType(audit.ExecutionSkipped)
	require.Len(t, skipped, 1)
	assert.Equal(t, "wf-qualified", skipped[0].WorkflowID)
	// No second execution exists, so the skip entry must not point at one.
	assert.Empty(t, skipped[0].ExecutionID)
	assert.Equal(t, "lead-1", skipped[0].Details["entity_id"])
}

func TestHandleEventPersonalScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	def := qualifiedLeadDef()
	def.Scope = models.ScopePersonal
	def.OwnerID = "user-a"
	def.Actions = def.Actions[:1]
	require.NoError(t, f.persistence.Definitions().Save(ctx, def))
	f.domain.AddEntity(models.EntityRef{Type: "lead", ID: "lead-1"}, map[string]any{})

	other := qualifiedEvent()
	other.ActorID = "user-b"
	require.NoError(t, f.engine.HandleEvent(ctx, other))
	assert.Empty(t, f.domain.AppliedTypes())

	owner := qualifiedEvent()
	owner.ActorID = "user-a"
	require.NoError(t, f.engine.HandleEvent(ctx, owner))
	assert.Equal(t, []models.ActionType{models.ActionCreateTask}, f.domain.AppliedTypes())
}

func TestHandleEventEntityConditionFromAdapter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	def := qualifiedLeadDef()
	def.Conditions = append(def.Conditions, models.Condition{
		Field: "budget_band", Operator: "in", Value: "standard,premium",
	})
	def.Actions = def.Actions[:1]
	require.NoError(t, f.persistence.Definitions().Save(ctx, def))

	f.domain.AddEntity(models.EntityRef{Type: "lead", ID: "lead-1"}, map[string]any{"budget_band": "economy"})
	require.NoError(t, f.engine.HandleEvent(ctx, qualifiedEvent()))
	assert.Empty(t, f.domain.AppliedTypes())

	f.domain.AddEntity(models.EntityRef{Type: "lead", ID: "lead-1"}, map[string]any{"budget_band": "premium"})
	require.NoError(t, f.engine.HandleEvent(ctx, qualifiedEvent()))
	assert.Equal(t, []models.ActionType{models.ActionCreateTask}, f.domain.AppliedTypes())
}

func TestPreviewMatchesIgnoresEnabledFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	def := qualifiedLeadDef()
	def.Enabled = false
	require.NoError(t, f.persistence.Definitions().Save(ctx, def))

	matched, err := f.engine.PreviewMatches(ctx, qualifiedEvent())
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "wf-qualified", matched[0].ID)

	// A live event for the same definition fires nothing.
	require.NoError(t, f.engine.HandleEvent(ctx, qualifiedEvent()))
	executions, err := f.persistence.Executions().ListByWorkflow(ctx, "wf-qualified")
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestHandleResumeJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	def := qualifiedLeadDef()
	def.Actions = def.Actions[:1]
	require.NoError(t, f.persistence.Definitions().Save(ctx, def))
	f.domain.AddEntity(models.EntityRef{Type: "lead", ID: "lead-1"}, map[string]any{})

	execution := &models.WorkflowExecution{
		ID:          "exec-resume",
		WorkflowID:  def.ID,
		OrgID:       "org-1",
		Entity:      models.EntityRef{Type: "lead", ID: "lead-1"},
		TriggerData: map[string]any{},
		Status:      models.ExecutionRunning,
		StartedAt:   time.Now().UTC(),
	}
	require.NoError(t, f.persistence.Executions().Create(ctx, execution))

	job := &queue.Job{
		Type:    queue.JobTypeResumeExecution,
		Payload: map[string]any{"execution_id": "exec-resume"},
	}
	require.NoError(t, f.engine.HandleResumeJob(ctx, job))

	stored, err := f.persistence.Executions().GetByID(ctx, "exec-resume")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, stored.Status)
}
