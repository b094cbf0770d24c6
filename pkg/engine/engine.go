// Package engine ties trigger matching, execution and approvals together
// behind one facade. Callers construct an Engine with their persistence,
// domain adapter and queue; nothing here relies on process-global state, so
// two engines with different stores can coexist in one process.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/journeycrm/automation/pkg/adapter"
	"github.com/journeycrm/automation/pkg/approval"
	"github.com/journeycrm/automation/pkg/audit"
	"github.com/journeycrm/automation/pkg/businesshours"
	"github.com/journeycrm/automation/pkg/executor"
	"github.com/journeycrm/automation/pkg/matcher"
	"github.com/journeycrm/automation/pkg/models"
	"github.com/journeycrm/automation/pkg/persistence"
	"github.com/journeycrm/automation/pkg/queue"
)

// Config carries the engine's collaborators.
type Config struct {
	Persistence persistence.Persistence
	Adapter     adapter.Adapter
	Queue       queue.JobQueue
	Audit       audit.Publisher
	Calendar    *businesshours.Calendar
	Logger      *slog.Logger
	Tracer      trace.Tracer
}

// Engine is the automation engine facade.
type Engine struct {
	persistence persistence.Persistence
	domain      adapter.Adapter
	matcher     *matcher.Matcher
	executor    *executor.Executor
	approvals   *approval.Service
	audit       audit.Publisher
	logger      *slog.Logger
	tracer      trace.Tracer
}

// New wires an engine from its collaborators.
func New(config Config) *Engine {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tracer := config.Tracer
	if tracer == nil {
		tracer = otel.Tracer("automation-engine")
	}

	exec := executor.New(
		config.Persistence.Executions(),
		config.Persistence.Approvals(),
		config.Adapter,
		config.Queue,
		config.Audit,
		config.Calendar,
		logger)

	approvals := approval.NewService(
		config.Persistence.Definitions(),
		config.Persistence.Executions(),
		config.Persistence.Approvals(),
		exec,
		config.Adapter,
		config.Audit,
		logger)

	return &Engine{
		persistence: config.Persistence,
		domain:      config.Adapter,
		matcher:     matcher.New(logger),
		executor:    exec,
		approvals:   approvals,
		audit:       config.Audit,
		logger:      logger.With("module", "engine"),
		tracer:      tracer,
	}
}

// Approvals exposes the approval service for transports that take
// decisions directly.
func (e *Engine) Approvals() *approval.Service {
	return e.approvals
}

// HandleEvent runs the full pipeline for one trigger event: match the
// org's definitions, create an execution per match and run it. Execution
// failures are recorded on the ledger, not returned; the error covers only
// infrastructure faults that make the event worth redelivering.
func (e *Engine) HandleEvent(ctx context.Context, event models.TriggerEvent) error {
	ctx, span := e.tracer.Start(ctx, "engine.handle_event", trace.WithAttributes(
		attribute.String("trigger.type", string(event.TriggerType)),
		attribute.String("org.id", event.OrgID)))
	defer span.End()

	defs, err := e.persistence.Definitions().ListByTriggerType(ctx, event.OrgID, event.TriggerType)
	if err != nil {
		span.RecordError(err)
		return err
	}

	fields := e.fieldSource(ctx, event.Entity)

	matched := e.matcher.Match(event, defs, fields, matcher.Options{})
	span.SetAttributes(attribute.Int("matches", len(matched)))

	for _, def := range matched {
		e.fire(ctx, def, event)
	}

	return nil
}

// PreviewMatches reports which of the org's definitions could fire for the
// event's trigger type, ignoring the enabled flag and event congruence.
func (e *Engine) PreviewMatches(ctx context.Context, event models.TriggerEvent) ([]*models.WorkflowDefinition, error) {
	defs, err := e.persistence.Definitions().ListByTriggerType(ctx, event.OrgID, event.TriggerType)
	if err != nil {
		return nil, err
	}

	return e.matcher.Match(event, defs, nil, matcher.Options{DryRun: true}), nil
}

// ResolveApproval applies a user decision to a pending approval task.
func (e *Engine) ResolveApproval(ctx context.Context, taskID string, decision models.ApprovalDecision, actorID string) (*approval.ResumeResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.resolve_approval", trace.WithAttributes(
		attribute.String("task.id", taskID),
		attribute.String("decision", string(decision))))
	defer span.End()

	result, err := e.approvals.Resolve(ctx, taskID, decision, actorID)
	if err != nil {
		span.RecordError(err)
	}

	return result, err
}

// ResumeExecution continues a running execution from its stored cursor.
// It backs deferred resume jobs; an execution no longer running is a no-op.
func (e *Engine) ResumeExecution(ctx context.Context, executionID string) error {
	execution, err := e.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.Status != models.ExecutionRunning {
		e.logger.Debug("Execution not running, nothing to resume",
			"execution_id", executionID, "status", execution.Status)
		return nil
	}

	def, err := e.persistence.Definitions().GetByID(ctx, execution.WorkflowID)
	if err != nil {
		return err
	}

	_, err = e.executor.Execute(ctx, execution, def)
	return err
}

// HandleResumeJob adapts ResumeExecution to the job queue handler shape.
func (e *Engine) HandleResumeJob(ctx context.Context, job *queue.Job) error {
	executionID, _ := job.Payload["execution_id"].(string)
	if executionID == "" {
		e.logger.Warn("Resume job without execution_id", "job_id", job.ID)
		return nil
	}
	return e.ResumeExecution(ctx, executionID)
}

// fire creates and runs one execution. Duplicate deliveries of naturally
// idempotent triggers collapse onto the already-active execution.
func (e *Engine) fire(ctx context.Context, def *models.WorkflowDefinition, event models.TriggerEvent) {
	now := time.Now().UTC()
	execution := &models.WorkflowExecution{
		ID:            uuid.Must(uuid.NewV7()).String(),
		WorkflowID:    def.ID,
		OrgID:         def.OrgID,
		Entity:        event.Entity,
		TriggerSource: event.Source,
		TriggerData:   event.Data,
		Status:        models.ExecutionRunning,
		StartedAt:     now,
	}

	if def.TriggerType.NaturallyIdempotent() && !event.Entity.IsZero() {
		created, err := e.persistence.Executions().CreateIfNoneActive(ctx, execution)
		if err != nil {
			e.logger.Error("Failed to create execution", "workflow_id", def.ID, "error", err)
			return
		}
		if !created {
			// The candidate execution was never persisted, so the skip entry
			// references the (workflow, entity) pair rather than its id.
			e.publish(ctx, audit.Event{
				ID:         uuid.New().String(),
				Type:       audit.ExecutionSkipped,
				OrgID:      def.OrgID,
				WorkflowID: def.ID,
				Actor:      "system",
				Timestamp:  now,
				Details: map[string]any{
					"entity_type": event.Entity.Type,
					"entity_id":   event.Entity.ID,
				},
			})
			e.logger.Info("Duplicate trigger, execution already active",
				"workflow_id", def.ID,
				"entity_type", event.Entity.Type,
				"entity_id", event.Entity.ID)
			return
		}
	} else if err := e.persistence.Executions().Create(ctx, execution); err != nil {
		e.logger.Error("Failed to create execution", "workflow_id", def.ID, "error", err)
		return
	}

	e.publish(ctx, audit.NewExecutionEvent(audit.ExecutionStarted, execution, event.ActorID, "", models.ExecutionRunning))

	if _, err := e.executor.Execute(ctx, execution, def); err != nil {
		e.logger.Error("Execution errored",
			"execution_id", execution.ID,
			"workflow_id", def.ID,
			"error", err)
	}
}

// fieldSource resolves the event's entity once and serves condition reads
// from it. A missing or absent entity yields a source that knows nothing.
func (e *Engine) fieldSource(ctx context.Context, ref models.EntityRef) matcher.FieldSource {
	if ref.IsZero() {
		return nil
	}

	entity, err := e.domain.ResolveEntity(ctx, ref)
	if err != nil {
		e.logger.Debug("Entity not resolvable for matching",
			"entity_type", ref.Type, "entity_id", ref.ID, "error", err)
		return nil
	}

	return func(field string) (any, bool) {
		return e.domain.FieldValue(entity, field)
	}
}

func (e *Engine) publish(ctx context.Context, event audit.Event) {
	if err := e.audit.Publish(ctx, event); err != nil {
		e.logger.Warn("Failed to publish audit event", "event_type", event.Type, "error", err)
	}
}
