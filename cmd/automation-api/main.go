package main

import (
	"context"
	"os"
	"strconv"

	cli "github.com/urfave/cli/v3"

	"github.com/journeycrm/automation/pkg/adapter/httpadapter"
	"github.com/journeycrm/automation/pkg/cmd"
	"github.com/journeycrm/automation/pkg/engine"
	"github.com/journeycrm/automation/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "automation-api",
		EnableShellCompletion: true,
		Usage:                 "HTTP surface for approval decisions and definition validation",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   9080,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "queue-url",
				Usage:   "Job queue connection URL (redis://...)",
				Sources: cli.EnvVars("QUEUE_URL"),
			},
			&cli.StringFlag{
				Name:    "audit-bus",
				Usage:   "Audit bus provider (kafka, memory)",
				Value:   "memory",
				Sources: cli.EnvVars("AUDIT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:     "crm-url",
				Usage:    "Base URL of the CRM internal API",
				Required: true,
				Sources:  cli.EnvVars("CRM_URL"),
			},
			&cli.StringFlag{
				Name:    "crm-token",
				Usage:   "Bearer token for the CRM internal API",
				Sources: cli.EnvVars("CRM_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup("automation-api", command.String("log-level"))
			logger := log.WithModule("automation-api")

			logger.InfoContext(ctx, "Initializing automation API")

			p, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}
			defer func() {
				if err := p.Close(ctx); err != nil {
					logger.Error("Failed to close persistence", "error", err)
				}
			}()

			jobs, err := cmd.NewJobQueue(ctx, logger, command.String("queue-url"))
			if err != nil {
				return err
			}
			defer func() {
				if err := jobs.Close(ctx); err != nil {
					logger.Error("Failed to close job queue", "error", err)
				}
			}()

			auditBus, err := cmd.NewAuditPublisher(command.String("audit-bus"), logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := auditBus.Close(); err != nil {
					logger.Error("Failed to close audit bus", "error", err)
				}
			}()

			crm := httpadapter.NewClient(command.String("crm-url"), command.String("crm-token"), logger)

			eng := engine.New(engine.Config{
				Persistence: p,
				Adapter:     crm,
				Queue:       jobs,
				Audit:       auditBus,
				Logger:      logger,
			})

			api := NewAPI(logger, p, eng)

			return api.App().Listen(":" + strconv.Itoa(command.Int("port")))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
