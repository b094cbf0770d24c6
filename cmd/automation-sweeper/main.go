package main

import (
	"context"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/journeycrm/automation/pkg/log"
)

func main() {
	cmd := &cli.Command{
		Name:                  "automation-sweeper",
		EnableShellCompletion: true,
		Usage:                 "Run the time-based trigger sweeps and the background job worker",
		Flags: []cli.Flag{
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
			&cli.DurationFlag{
				Name:    "sweep-interval",
				Usage:   "How often to run the sweep passes",
				Value:   time.Minute,
				Sources: cli.EnvVars("SWEEP_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			newValidateCommand(),
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup("automation-sweeper", command.String("log-level"))
			logger := log.WithModule("automation-sweeper")

			logger.InfoContext(ctx, "Initializing automation sweeper")

			sweeper, err := NewSweeperManager(ctx, logger, command)
			if err != nil {
				return err
			}

			return sweeper.Run(ctx, command.Duration("sweep-interval"))
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
