// Package sweep drives the time-based triggers. A periodic pass evaluates
// cron schedules, due-task lookaheads, inactivity windows and approval
// deadlines, claiming an idempotency mark per firing so overlapping
// sweepers fire each occurrence exactly once.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/journeycrm/automation/pkg/adapter"
	"github.com/journeycrm/automation/pkg/approval"
	"github.com/journeycrm/automation/pkg/models"
	"github.com/journeycrm/automation/pkg/persistence"
)

// DefaultLookaheadMinutes applies when a task_due trigger does not set its
// own lookahead window.
const DefaultLookaheadMinutes = 15

// EventHandler receives the synthetic trigger events sweeps produce. The
// engine implements it; sweeps and live CRM events share one entry point.
type EventHandler interface {
	HandleEvent(ctx context.Context, event models.TriggerEvent) error
}

// Driver runs the sweep passes.
type Driver struct {
	persistence persistence.Persistence
	handler     EventHandler
	approvals   *approval.Service
	source      adapter.SweepSource
	logger      *slog.Logger
	now         func() time.Time
}

// NewDriver creates a sweep driver.
func NewDriver(
	p persistence.Persistence,
	handler EventHandler,
	approvals *approval.Service,
	source adapter.SweepSource,
	logger *slog.Logger,
) *Driver {
	return &Driver{
		persistence: p,
		handler:     handler,
		approvals:   approvals,
		source:      source,
		logger:      logger.With("module", "sweep"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the driver's clock. Intended for tests.
func (d *Driver) WithNow(now func() time.Time) *Driver {
	d.now = now
	return d
}

// Run executes sweep passes on the given interval until the context ends.
func (d *Driver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Info("Sweep driver started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Sweep driver stopping")
			return ctx.Err()
		case <-ticker.C:
			d.SweepAll(ctx)
		}
	}
}

// SweepAll runs every pass once. Pass failures are logged, never fatal; the
// next tick retries whatever this one missed.
func (d *Driver) SweepAll(ctx context.Context) {
	if err := d.SweepCron(ctx); err != nil {
		d.logger.Error("Cron sweep failed", "error", err)
	}
	if err := d.SweepDueTasks(ctx); err != nil {
		d.logger.Error("Due-task sweep failed", "error", err)
	}
	if err := d.SweepInactivity(ctx); err != nil {
		d.logger.Error("Inactivity sweep failed", "error", err)
	}
	if err := d.SweepApprovalExpiry(ctx); err != nil {
		d.logger.Error("Approval expiry sweep failed", "error", err)
	}
}

// MatchesMinute reports whether the cron expression fires at the minute
// containing at, evaluated in the given timezone. Empty timezone means UTC.
func MatchesMinute(expression, timezone string, at time.Time) (bool, error) {
	sched, err := cron.ParseStandard(expression)
	if err != nil {
		return false, fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}

	loc := time.UTC
	if timezone != "" {
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return false, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
	}

	minute := at.In(loc).Truncate(time.Minute)

	return sched.Next(minute.Add(-time.Second)).Equal(minute), nil
}

// SweepCron fires every enabled cron definition whose schedule matches the
// current minute. The claim key pins the firing to the definition and the
// minute, so a sweeper restarted mid-minute cannot fire it twice.
func (d *Driver) SweepCron(ctx context.Context) error {
	defs, err := d.persistence.Definitions().ListEnabledByTriggerType(ctx, models.TriggerScheduledCron)
	if err != nil {
		return err
	}

	now := d.now()

	for _, def := range defs {
		var config models.CronTriggerConfig
		if err := def.DecodeTriggerConfig(&config); err != nil {
			d.logger.Warn("Skipping cron definition with bad config", "workflow_id", def.ID, "error", err)
			continue
		}

		matches, err := MatchesMinute(config.Expression, config.Timezone, now)
		if err != nil {
			d.logger.Warn("Skipping cron definition", "workflow_id", def.ID, "error", err)
			continue
		}
		if !matches {
			continue
		}

		key := fmt.Sprintf("cron:%s:%s", def.ID, now.UTC().Truncate(time.Minute).Format("200601021504"))
		if !d.claim(ctx, key) {
			continue
		}

		d.dispatch(ctx, def, models.TriggerEvent{
			TriggerType: models.TriggerScheduledCron,
			OrgID:       def.OrgID,
			ActorID:     def.OwnerID,
			Source:      "scheduler",
			Data: map[string]any{
				"definition_id": def.ID,
				"fired_at":      now.Format(time.RFC3339),
			},
			OccurredAt: now,
		})
	}

	return nil
}

// SweepDueTasks fires task_due definitions for tasks entering their
// lookahead window. The claim key includes the task's due time, so a
// rescheduled task fires again while a merely re-swept one does not.
func (d *Driver) SweepDueTasks(ctx context.Context) error {
	defs, err := d.persistence.Definitions().ListEnabledByTriggerType(ctx, models.TriggerTaskDue)
	if err != nil {
		return err
	}

	now := d.now()

	for _, def := range defs {
		var config models.TaskDueTriggerConfig
		if err := def.DecodeTriggerConfig(&config); err != nil {
			d.logger.Warn("Skipping task_due definition with bad config", "workflow_id", def.ID, "error", err)
			continue
		}

		lookahead := time.Duration(config.LookaheadMinutes) * time.Minute
		if lookahead <= 0 {
			lookahead = DefaultLookaheadMinutes * time.Minute
		}

		tasks, err := d.source.DueTasks(ctx, now, lookahead, config.IncludeOverdue)
		if err != nil {
			d.logger.Error("Failed to query due tasks", "workflow_id", def.ID, "error", err)
			continue
		}

		for _, task := range tasks {
			if task.OrgID != def.OrgID {
				continue
			}

			key := fmt.Sprintf("task_due:%s:%s:%d", def.ID, task.Ref.ID, task.DueAt.Unix())
			if !d.claim(ctx, key) {
				continue
			}

			d.dispatch(ctx, def, models.TriggerEvent{
				TriggerType: models.TriggerTaskDue,
				OrgID:       def.OrgID,
				ActorID:     def.OwnerID,
				Entity:      task.Ref,
				Source:      "scheduler",
				Data: map[string]any{
					"definition_id": def.ID,
					"due_at":        task.DueAt.Format(time.RFC3339),
					"owner_id":      task.OwnerID,
				},
				OccurredAt: now,
			})
		}
	}

	return nil
}

// SweepInactivity fires inactivity definitions for entities quiet past the
// configured window. The claim key includes the last-activity time, so an
// entity fires once per quiet spell and again only after new activity
// resets the clock.
func (d *Driver) SweepInactivity(ctx context.Context) error {
	defs, err := d.persistence.Definitions().ListEnabledByTriggerType(ctx, models.TriggerInactivity)
	if err != nil {
		return err
	}

	now := d.now()

	for _, def := range defs {
		var config models.InactivityTriggerConfig
		if err := def.DecodeTriggerConfig(&config); err != nil || config.EntityType == "" || config.WindowDays <= 0 {
			d.logger.Warn("Skipping inactivity definition with bad config", "workflow_id", def.ID, "error", err)
			continue
		}

		window := time.Duration(config.WindowDays) * 24 * time.Hour

		entities, err := d.source.InactiveEntities(ctx, config.EntityType, now, window)
		if err != nil {
			d.logger.Error("Failed to query inactive entities", "workflow_id", def.ID, "error", err)
			continue
		}

		for _, entity := range entities {
			if entity.OrgID != def.OrgID {
				continue
			}

			key := fmt.Sprintf("inactivity:%s:%s:%d", def.ID, entity.Ref.ID, entity.LastActivityAt.Unix())
			if !d.claim(ctx, key) {
				continue
			}

			d.dispatch(ctx, def, models.TriggerEvent{
				TriggerType: models.TriggerInactivity,
				OrgID:       def.OrgID,
				ActorID:     def.OwnerID,
				Entity:      entity.Ref,
				Source:      "scheduler",
				Data: map[string]any{
					"definition_id":    def.ID,
					"last_activity_at": entity.LastActivityAt.Format(time.RFC3339),
					"owner_id":         entity.OwnerID,
				},
				OccurredAt: now,
			})
		}
	}

	return nil
}

// SweepApprovalExpiry times out pending approvals past their deadline.
func (d *Driver) SweepApprovalExpiry(ctx context.Context) error {
	tasks, err := d.persistence.Approvals().ListPendingDue(ctx, d.now())
	if err != nil {
		return err
	}

	for _, task := range tasks {
		if _, err := d.approvals.Expire(ctx, task); err != nil {
			if errors.Is(err, approval.ErrAlreadyResolved) {
				continue
			}
			d.logger.Error("Failed to expire approval", "task_id", task.ID, "error", err)
		}
	}

	return nil
}

// claim takes the idempotency mark for a firing. False means another
// sweeper got there first.
func (d *Driver) claim(ctx context.Context, key string) bool {
	claimed, err := d.persistence.SweepMarks().Claim(ctx, key, d.now())
	if err != nil {
		d.logger.Error("Failed to claim sweep mark", "key", key, "error", err)
		return false
	}
	return claimed
}

func (d *Driver) dispatch(ctx context.Context, def *models.WorkflowDefinition, event models.TriggerEvent) {
	if err := d.handler.HandleEvent(ctx, event); err != nil {
		d.logger.Error("Failed to handle sweep event",
			"workflow_id", def.ID,
			"trigger_type", event.TriggerType,
			"error", err)
	}
}
