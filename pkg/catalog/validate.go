package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/journeycrm/automation/pkg/condition"
	"github.com/journeycrm/automation/pkg/models"
	"github.com/robfig/cron/v3"
	"github.com/xeipuuv/gojsonschema"
)

// ValidationError aggregates every problem found in a definition so callers
// can surface them all at once.
type ValidationError struct {
	DefinitionID string
	Issues       []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("definition %s is invalid: %s", e.DefinitionID, strings.Join(e.Issues, "; "))
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateDefinition checks a workflow definition against the static catalog.
// It must pass before the definition may be enabled.
func ValidateDefinition(def *models.WorkflowDefinition) error {
	var issues []string

	if err := validate.Struct(def); err != nil {
		issues = append(issues, structIssues(err)...)
	}

	switch def.Scope {
	case models.ScopePersonal:
		if def.OwnerID == "" {
			issues = append(issues, "personal-scope definition must have an owning user")
		}
	case models.ScopeOrg:
		if def.OwnerID != "" {
			issues = append(issues, "org-scope definition must not have an owning user")
		}
	}

	if def.Enabled && def.RequiresReview {
		issues = append(issues, "definition cannot be enabled while it still requires review")
	}

	issues = append(issues, triggerIssues(def)...)
	issues = append(issues, conditionIssues(def)...)
	issues = append(issues, actionIssues(def)...)

	if len(issues) > 0 {
		return &ValidationError{DefinitionID: def.ID, Issues: issues}
	}

	return nil
}

func structIssues(err error) []string {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}

	issues := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		issues = append(issues, fmt.Sprintf("field %s failed %q validation", fieldErr.Field(), fieldErr.Tag()))
	}

	return issues
}

func triggerIssues(def *models.WorkflowDefinition) []string {
	spec, ok := TriggerSpecs[def.TriggerType]
	if !ok {
		return []string{fmt.Sprintf("unknown trigger type %q", def.TriggerType)}
	}

	issues := schemaIssues(fmt.Sprintf("trigger config (%s)", def.TriggerType), spec.ConfigSchema, def.TriggerConfig)

	if def.TriggerType == models.TriggerScheduledCron {
		issues = append(issues, cronIssues(def.TriggerConfig)...)
	}

	return issues
}

func cronIssues(config map[string]any) []string {
	var issues []string

	expr, _ := config["cron_expression"].(string)
	if expr != "" {
		if _, err := cron.ParseStandard(expr); err != nil {
			issues = append(issues, fmt.Sprintf("invalid cron expression %q: %v", expr, err))
		}
	}

	if tz, _ := config["timezone"].(string); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			issues = append(issues, fmt.Sprintf("unknown timezone %q", tz))
		}
	}

	return issues
}

func conditionIssues(def *models.WorkflowDefinition) []string {
	var issues []string

	entityType, _ := def.TriggerConfig["entity_type"].(string)

	for i, cond := range def.Conditions {
		if !condition.Known(cond.Operator) {
			issues = append(issues, fmt.Sprintf("condition %d uses unknown operator %q", i, cond.Operator))
		}

		if cond.Field != "" && !FieldAllowed(entityType, cond.Field) {
			issues = append(issues, fmt.Sprintf("condition %d references unknown field %q", i, cond.Field))
		}
	}

	return issues
}

func actionIssues(def *models.WorkflowDefinition) []string {
	var issues []string

	for i, action := range def.Actions {
		spec, ok := ActionSpecs[action.Type]
		if !ok {
			issues = append(issues, fmt.Sprintf("action %d has unknown type %q", i, action.Type))
			continue
		}

		issues = append(issues, schemaIssues(fmt.Sprintf("action %d (%s)", i, action.Type), spec.ConfigSchema, action.Configuration)...)

		if action.Condition != nil && !condition.Known(action.Condition.Operator) {
			issues = append(issues, fmt.Sprintf("action %d inline condition uses unknown operator %q", i, action.Condition.Operator))
		}
	}

	return issues
}

// schemaIssues validates a configuration payload against its JSON schema.
func schemaIssues(subject string, schema, config map[string]any) []string {
	if config == nil {
		config = map[string]any{}
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(config)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return []string{fmt.Sprintf("%s: schema validation failed: %v", subject, err)}
	}

	if result.Valid() {
		return nil
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		issues = append(issues, fmt.Sprintf("%s: %s", subject, desc.String()))
	}

	return issues
}
