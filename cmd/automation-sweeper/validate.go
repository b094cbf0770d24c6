package main

import (
	"context"
	"errors"
	"fmt"

	cli "github.com/urfave/cli/v3"

	"github.com/journeycrm/automation/pkg/catalog"
	"github.com/journeycrm/automation/pkg/cmd"
	"github.com/journeycrm/automation/pkg/log"
)

// newValidateCommand checks every stored workflow definition of an
// organization against the trigger and action catalog.
func newValidateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Validate stored workflow definitions against the catalog",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "org-id",
				Usage:    "Organization whose definitions to validate",
				Required: true,
				Sources:  cli.EnvVars("ORG_ID"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup("automation-sweeper", command.String("log-level"))
			logger := log.WithModule("validate")

			p, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}
			defer func() { _ = p.Close(ctx) }()

			defs, err := p.Definitions().List(ctx, command.String("org-id"))
			if err != nil {
				return err
			}

			invalid := 0
			for _, def := range defs {
				err := catalog.ValidateDefinition(def)
				if err == nil {
					fmt.Printf("OK    %s  %s\n", def.ID, def.Name)
					continue
				}

				invalid++

				var validationErr *catalog.ValidationError
				if errors.As(err, &validationErr) {
					fmt.Printf("FAIL  %s  %s\n", def.ID, def.Name)
					for _, issue := range validationErr.Issues {
						fmt.Printf("      - %s\n", issue)
					}
					continue
				}

				fmt.Printf("FAIL  %s  %s\n      - %v\n", def.ID, def.Name, err)
			}

			fmt.Printf("\n%d definitions checked, %d invalid\n", len(defs), invalid)

			if invalid > 0 {
				return fmt.Errorf("%d invalid definitions", invalid)
			}
			return nil
		},
	}
}
