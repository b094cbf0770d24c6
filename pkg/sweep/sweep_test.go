package sweep

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journeycrm/automation/pkg/adapter"
	"github.com/journeycrm/automation/pkg/approval"
	"github.com/journeycrm/automation/pkg/audit"
	"github.com/journeycrm/automation/pkg/executor"
	"github.com/journeycrm/automation/pkg/models"
	"github.com/journeycrm/automation/pkg/persistence/memory"
	queuememory "github.com/journeycrm/automation/pkg/queue/memory"
	"github.com/journeycrm/automation/pkg/testutil"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []models.TriggerEvent
}

func (h *recordingHandler) HandleEvent(_ context.Context, event models.TriggerEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return nil
}

func (h *recordingHandler) Events() []models.TriggerEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.TriggerEvent, len(h.events))
	copy(out, h.events)
	return out
}

type fixture struct {
	persistence *memory.Persistence
	handler     *recordingHandler
	source      *testutil.FakeSweepSource
	audit       *audit.MemoryPublisher
	driver      *Driver
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()

	p := memory.NewPersistence()
	handler := &recordingHandler{}
	source := &testutil.FakeSweepSource{}
	domain := testutil.NewFakeAdapter()
	jobs := queuememory.NewQueue()
	bus := audit.NewMemoryPublisher()
	logger := slog.New(slog.DiscardHandler)

	t.Cleanup(func() { _ = jobs.Close(context.Background()) })

	exec := executor.New(p.Executions(), p.Approvals(), domain, jobs, bus, nil, logger)
	approvals := approval.NewService(p.Definitions(), p.Executions(), p.Approvals(), exec, domain, bus, logger)

	driver := NewDriver(p, handler, approvals, source, logger).
		WithNow(func() time.Time { return now })

	return &fixture{persistence: p, handler: handler, source: source, audit: bus, driver: driver}
}

func saveDefinition(t *testing.T, f *fixture, def *models.WorkflowDefinition) {
	t.Helper()
	require.NoError(t, f.persistence.Definitions().Save(context.Background(), def))
}

func cronDef(id, expression string) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:            id,
		OrgID:         "org-1",
		Scope:         models.ScopeOrg,
		Name:          "Weekly report",
		TriggerType:   models.TriggerScheduledCron,
		TriggerConfig: map[string]any{"cron_expression": expression},
		Enabled:       true,
	}
}

func TestMatchesMinute(t *testing.T) {
	monday0900 := time.Date(2025, 3, 10, 9, 0, 30, 0, time.UTC)

	tests := []struct {
		name       string
		expression string
		at         time.Time
		want       bool
	}{
		{"fires at the scheduled minute", "0 9 * * 1", monday0900, true},
		{"does not fire one minute later", "0 9 * * 1", monday0900.Add(time.Minute), false},
		{"does not fire the next day", "0 9 * * 1", monday0900.AddDate(0, 0, 1), false},
		{"every-minute schedule always fires", "* * * * *", monday0900, true},
		{"sunday as 0", "0 9 * * 0", time.Date(2025, 3, 9, 9, 0, 0, 0, time.UTC), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MatchesMinute(tt.expression, "", tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchesMinuteTimezone(t *testing.T) {
	// 09:00 in New York is 13:00 UTC during DST.
	utc := time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)

	got, err := MatchesMinute("0 9 * * 1", "America/New_York", utc)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = MatchesMinute("0 9 * * 1", "", utc)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestMatchesMinuteInvalidExpression(t *testing.T) {
	_, err := MatchesMinute("not a cron", "", time.Now())
	assert.Error(t, err)

	_, err = MatchesMinute("0 9 * * 1", "Mars/Olympus", time.Now())
	assert.Error(t, err)
}

func TestSweepCronFiresMatchingDefinitions(t *testing.T) {
	monday0900 := time.Date(2025, 3, 10, 9, 0, 12, 0, time.UTC)
	f := newFixture(t, monday0900)

	saveDefinition(t, f, cronDef("wf-monday", "0 9 * * 1"))
	saveDefinition(t, f, cronDef("wf-friday", "0 9 * * 5"))

	disabled := cronDef("wf-disabled", "0 9 * * 1")
	disabled.Enabled = false
	saveDefinition(t, f, disabled)

	require.NoError(t, f.driver.SweepCron(context.Background()))

	events := f.handler.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.TriggerScheduledCron, events[0].TriggerType)
	assert.Equal(t, "wf-monday", events[0].DataString("definition_id"))
	assert.Equal(t, "scheduler", events[0].Source)
}

func TestSweepCronFiresOncePerMinute(t *testing.T) {
	monday0900 := time.Date(2025, 3, 10, 9, 0, 12, 0, time.UTC)
	f := newFixture(t, monday0900)

	saveDefinition(t, f, cronDef("wf-monday", "0 9 * * 1"))

	// Overlapping sweepers inside the same minute fire once.
	require.NoError(t, f.driver.SweepCron(context.Background()))
	require.NoError(t, f.driver.SweepCron(context.Background()))

	assert.Len(t, f.handler.Events(), 1)
}

func TestSweepDueTasks(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, now)

	saveDefinition(t, f, &models.WorkflowDefinition{
		ID:            "wf-due",
		OrgID:         "org-1",
		Scope:         models.ScopeOrg,
		Name:          "Due task nudge",
		TriggerType:   models.TriggerTaskDue,
		TriggerConfig: map[string]any{"lookahead_minutes": 30},
		Enabled:       true,
	})

	f.source.Tasks = []adapter.DueTask{
		{Ref: models.EntityRef{Type: "task", ID: "t-soon"}, OrgID: "org-1", OwnerID: "user-1", DueAt: now.Add(10 * time.Minute)},
		{Ref: models.EntityRef{Type: "task", ID: "t-later"}, OrgID: "org-1", OwnerID: "user-1", DueAt: now.Add(2 * time.Hour)},
		{Ref: models.EntityRef{Type: "task", ID: "t-other-org"}, OrgID: "org-2", OwnerID: "user-9", DueAt: now.Add(5 * time.Minute)},
	}

	require.NoError(t, f.driver.SweepDueTasks(context.Background()))

	events := f.handler.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "t-soon", events[0].Entity.ID)
	assert.Equal(t, "wf-due", events[0].DataString("definition_id"))

	// Re-sweeping the same task is a no-op until its due time changes.
	require.NoError(t, f.driver.SweepDueTasks(context.Background()))
	assert.Len(t, f.handler.Events(), 1)

	f.source.Tasks[0].DueAt = now.Add(20 * time.Minute)
	require.NoError(t, f.driver.SweepDueTasks(context.Background()))
	assert.Len(t, f.handler.Events(), 2)
}

func TestSweepInactivity(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, now)

	saveDefinition(t, f, &models.WorkflowDefinition{
		ID:          "wf-quiet",
		OrgID:       "org-1",
		Scope:       models.ScopeOrg,
		Name:        "Re-engage quiet surrogates",
		TriggerType: models.TriggerInactivity,
		TriggerConfig: map[string]any{
			"entity_type": "surrogate",
			"window_days": 14,
		},
		Enabled: true,
	})

	f.source.Inactive = map[string][]adapter.InactiveEntity{
		"surrogate": {
			{Ref: models.EntityRef{Type: "surrogate", ID: "s-quiet"}, OrgID: "org-1", OwnerID: "user-1", LastActivityAt: now.AddDate(0, 0, -20)},
			{Ref: models.EntityRef{Type: "surrogate", ID: "s-active"}, OrgID: "org-1", OwnerID: "user-1", LastActivityAt: now.AddDate(0, 0, -3)},
		},
	}

	require.NoError(t, f.driver.SweepInactivity(context.Background()))

	events := f.handler.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "s-quiet", events[0].Entity.ID)

	// Quiet spell already fired; no new activity means no new firing.
	require.NoError(t, f.driver.SweepInactivity(context.Background()))
	assert.Len(t, f.handler.Events(), 1)
}

func TestSweepApprovalExpiry(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, now)

	ctx := context.Background()

	task := &models.ApprovalTask{
		ID:             "task-1",
		ExecutionID:    "exec-1",
		OrgID:          "org-1",
		ApproverPolicy: "org_admin",
		DueBy:          now.Add(-time.Hour),
		Status:         models.ApprovalPending,
		CreatedAt:      now.Add(-72 * time.Hour),
	}
	require.NoError(t, f.persistence.Approvals().Create(ctx, task))

	require.NoError(t, f.persistence.Executions().Create(ctx, &models.WorkflowExecution{
		ID:           "exec-1",
		WorkflowID:   "wf-1",
		OrgID:        "org-1",
		Status:       models.ExecutionPausedForApproval,
		CurrentStep:  1,
		PausedTaskID: &task.ID,
		StartedAt:    now.Add(-72 * time.Hour),
	}))

	// Two sweepers racing the same deadline expire it exactly once.
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.driver.SweepApprovalExpiry(ctx)
		}()
	}
	wg.Wait()

	expired, err := f.persistence.Approvals().GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalExpired, expired.Status)

	execution, err := f.persistence.Executions().GetByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionExpired, execution.Status)

	assert.Len(t, f.audit.EventsOfType(audit.ApprovalExpired), 1)
	assert.Len(t, f.audit.EventsOfType(audit.ExecutionExpired), 1)
}
