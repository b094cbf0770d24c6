// Package main provides the automation API server implementation.
package main

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/journeycrm/automation/pkg/approval"
	"github.com/journeycrm/automation/pkg/catalog"
	"github.com/journeycrm/automation/pkg/engine"
	"github.com/journeycrm/automation/pkg/models"
	"github.com/journeycrm/automation/pkg/persistence"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      *engine.Engine
}

func NewAPI(logger *slog.Logger, p persistence.Persistence, eng *engine.Engine) *API {
	return &API{
		logger:      logger,
		persistence: p,
		engine:      eng,
	}
}

func (a *API) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("JourneyCRM Automation API")
	})

	app.Get("/health", a.healthCheck)

	app.Post("/approvals/:id/decision", a.decideApproval)
	app.Post("/definitions/validate", a.validateDefinition)
	app.Post("/events/preview", a.previewEvent)

	return app
}

func (a *API) healthCheck(c fiber.Ctx) error {
	if err := a.persistence.HealthCheck(c.Context()); err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"status": "ok"})
}

type decisionRequest struct {
	Decision models.ApprovalDecision `json:"decision"`
	ActorID  string                  `json:"actor_id"`
}

type decisionResponse struct {
	TaskID      string                  `json:"task_id"`
	ExecutionID string                  `json:"execution_id"`
	Outcome     models.ExecutionStatus  `json:"outcome"`
	Status      models.ApprovalStatus   `json:"status"`
	Decision    models.ApprovalDecision `json:"decision"`
}

func (a *API) decideApproval(c fiber.Ctx) error {
	var req decisionRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	if req.ActorID == "" {
		return badRequest(c, "actor_id is required")
	}

	result, err := a.engine.ResolveApproval(c.Context(), c.Params("id"), req.Decision, req.ActorID)

	switch {
	case err == nil:
	case errors.Is(err, approval.ErrUnknownDecision):
		return badRequest(c, "decision must be approve or deny")
	case errors.Is(err, approval.ErrAlreadyResolved):
		return conflict(c, "approval task already resolved")
	case persistence.IsApprovalNotFound(err):
		return notFound(c, "approval task not found")
	default:
		return internalError(c, err)
	}

	return c.JSON(decisionResponse{
		TaskID:      result.Task.ID,
		ExecutionID: result.Execution.ID,
		Outcome:     result.Outcome,
		Status:      result.Task.Status,
		Decision:    req.Decision,
	})
}

type validateResponse struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues,omitempty"`
}

func (a *API) validateDefinition(c fiber.Ctx) error {
	var def models.WorkflowDefinition
	if err := c.Bind().Body(&def); err != nil {
		return badRequest(c, "invalid request body")
	}

	err := catalog.ValidateDefinition(&def)
	if err == nil {
		return c.JSON(validateResponse{Valid: true})
	}

	var validationErr *catalog.ValidationError
	if errors.As(err, &validationErr) {
		return c.Status(fiber.StatusUnprocessableEntity).
			JSON(validateResponse{Valid: false, Issues: validationErr.Issues})
	}

	return internalError(c, err)
}

type previewResponse struct {
	Matches []previewMatch `json:"matches"`
}

type previewMatch struct {
	WorkflowID string `json:"workflow_id"`
	Name       string `json:"name"`
	Enabled    bool   `json:"enabled"`
}

// previewEvent reports which workflows could fire for a hypothetical
// trigger event, without creating executions.
func (a *API) previewEvent(c fiber.Ctx) error {
	var event models.TriggerEvent
	if err := c.Bind().Body(&event); err != nil {
		return badRequest(c, "invalid request body")
	}

	if event.OrgID == "" || event.TriggerType == "" {
		return badRequest(c, "org_id and trigger_type are required")
	}

	defs, err := a.engine.PreviewMatches(c.Context(), event)
	if err != nil {
		return internalError(c, err)
	}

	matches := make([]previewMatch, len(defs))
	for i, def := range defs {
		matches[i] = previewMatch{WorkflowID: def.ID, Name: def.Name, Enabled: def.Enabled}
	}

	return c.JSON(previewResponse{Matches: matches})
}
