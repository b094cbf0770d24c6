package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/journeycrm/automation/pkg/adapter/httpadapter"
	"github.com/journeycrm/automation/pkg/audit"
	"github.com/journeycrm/automation/pkg/cmd"
	"github.com/journeycrm/automation/pkg/engine"
	"github.com/journeycrm/automation/pkg/otelhelper"
	"github.com/journeycrm/automation/pkg/persistence"
	"github.com/journeycrm/automation/pkg/queue"
	"github.com/journeycrm/automation/pkg/sweep"
	"github.com/journeycrm/automation/pkg/webhook"
)

// SweeperManager owns the sweep loop and the background job worker that
// share one process.
type SweeperManager struct {
	persistence persistence.Persistence
	jobs        cmd.JobQueue
	auditBus    audit.Publisher
	driver      *sweep.Driver
	worker      *queue.Worker
	logger      *slog.Logger
}

func NewSweeperManager(ctx context.Context, logger *slog.Logger, command *cli.Command) (*SweeperManager, error) {
	p, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, err
	}

	jobs, err := cmd.NewJobQueue(ctx, logger, command.String("queue-url"))
	if err != nil {
		return nil, err
	}

	auditBus, err := cmd.NewAuditPublisher(command.String("audit-bus"), logger)
	if err != nil {
		return nil, err
	}

	tracer, err := otelhelper.NewTracer(ctx, "automation-sweeper")
	if err != nil {
		logger.WarnContext(ctx, "Tracing disabled", "error", err)
	}

	crm := httpadapter.NewClient(command.String("crm-url"), command.String("crm-token"), logger)

	eng := engine.New(engine.Config{
		Persistence: p,
		Adapter:     crm,
		Queue:       jobs,
		Audit:       auditBus,
		Logger:      logger,
		Tracer:      tracer,
	})

	driver := sweep.NewDriver(p, eng, eng.Approvals(), crm, logger)

	dispatcher := webhook.NewDispatcher(nil, auditBus, logger)

	worker := queue.NewWorker(jobs, logger)
	worker.Register(queue.JobTypeWebhookDispatch, dispatcher.HandleJob)
	worker.Register(queue.JobTypeResumeExecution, eng.HandleResumeJob)

	return &SweeperManager{
		persistence: p,
		jobs:        jobs,
		auditBus:    auditBus,
		driver:      driver,
		worker:      worker,
		logger:      logger,
	}, nil
}

// Run drives the sweep loop and the job worker until a signal or context
// cancellation stops them.
func (m *SweeperManager) Run(ctx context.Context, interval time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defer m.shutdown()

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- m.worker.Run(ctx)
	}()

	err := m.driver.Run(ctx, interval)

	if workerErr := <-workerDone; workerErr != nil && !isShutdown(workerErr) {
		m.logger.Error("Job worker stopped with error", "error", workerErr)
	}

	if isShutdown(err) {
		return nil
	}
	return err
}

func (m *SweeperManager) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.jobs.Close(ctx); err != nil {
		m.logger.Error("Failed to close job queue", "error", err)
	}
	if err := m.auditBus.Close(); err != nil {
		m.logger.Error("Failed to close audit bus", "error", err)
	}
	if err := m.persistence.Close(ctx); err != nil {
		m.logger.Error("Failed to close persistence", "error", err)
	}
}

func isShutdown(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
