// Package matcher selects the workflow definitions a trigger event should
// fire. Matching is pure and side-effect-free; creating executions is the
// caller's job, which lets the same matcher serve live dispatch and
// dry-run previews.
package matcher

import (
	"log/slog"

	"github.com/journeycrm/automation/pkg/condition"
	"github.com/journeycrm/automation/pkg/models"
)

// FieldSource resolves the "actual" side of a condition comparison. The
// second return is false when the field is unknown, which conditions treat
// as an empty value.
type FieldSource func(field string) (any, bool)

// Options tunes a match pass.
type Options struct {
	// DryRun returns definitions that could fire for the event's trigger
	// type without requiring event congruence, entity fields or the enabled
	// flag. It backs "test this workflow" previews and must never be used
	// for live dispatch.
	DryRun bool
}

// Matcher filters definitions against trigger events.
type Matcher struct {
	logger *slog.Logger
}

// New creates a matcher.
func New(logger *slog.Logger) *Matcher {
	return &Matcher{logger: logger.With("module", "trigger_matcher")}
}

// Match returns the definitions the event fires, in the order given.
// Callers pass definitions already scoped to the event's organization.
func (m *Matcher) Match(event models.TriggerEvent, defs []*models.WorkflowDefinition, fields FieldSource, opts Options) []*models.WorkflowDefinition {
	matched := make([]*models.WorkflowDefinition, 0)

	for _, def := range defs {
		if m.matches(event, def, fields, opts) {
			matched = append(matched, def)
		}
	}

	m.logger.Debug("Completed trigger matching",
		"trigger_type", event.TriggerType,
		"org_id", event.OrgID,
		"candidates", len(defs),
		"matches", len(matched),
		"dry_run", opts.DryRun)

	return matched
}

func (m *Matcher) matches(event models.TriggerEvent, def *models.WorkflowDefinition, fields FieldSource, opts Options) bool {
	if def.TriggerType != event.TriggerType {
		return false
	}

	if def.OrgID != event.OrgID {
		return false
	}

	if opts.DryRun {
		return true
	}

	if !def.Enabled {
		return false
	}

	// A personal workflow fires only for its owner's actions, never another
	// user's.
	if def.Scope == models.ScopePersonal && def.OwnerID != event.ActorID {
		return false
	}

	if !m.configMatches(event, def) {
		return false
	}

	return conditionsHold(def.Conditions, event, fields)
}

func (m *Matcher) configMatches(event models.TriggerEvent, def *models.WorkflowDefinition) bool {
	switch def.TriggerType {
	case models.TriggerStatusChanged:
		return matchStatusChanged(event, def.TriggerConfig)
	case models.TriggerFieldUpdated:
		return matchFieldUpdated(event, def.TriggerConfig)
	case models.TriggerFormSubmitted:
		return wildcardEquals(configString(def.TriggerConfig, "form_id"), event.DataString("form_id"))
	case models.TriggerIntakeLeadCreated:
		return wildcardEquals(configString(def.TriggerConfig, "source"), event.DataString("source"))
	case models.TriggerScheduledCron, models.TriggerTaskDue, models.TriggerInactivity:
		// Sweep-driven events are produced per definition; the event names
		// exactly which definition it is for.
		return event.DataString("definition_id") == def.ID
	default:
		m.logger.Warn("Unknown trigger type", "type", def.TriggerType)
		return false
	}
}

// matchStatusChanged treats empty config fields as wildcards: a definition
// with no from_status matches transitions out of any status.
func matchStatusChanged(event models.TriggerEvent, config map[string]any) bool {
	if !wildcardEquals(configString(config, "entity_type"), event.Entity.Type) {
		return false
	}

	if !wildcardEquals(configString(config, "from_status"), event.DataString("from_status")) {
		return false
	}

	return wildcardEquals(configString(config, "to_status"), event.DataString("to_status"))
}

func matchFieldUpdated(event models.TriggerEvent, config map[string]any) bool {
	if !wildcardEquals(configString(config, "entity_type"), event.Entity.Type) {
		return false
	}

	return configString(config, "field") == event.DataString("field")
}

func conditionsHold(conditions []models.Condition, event models.TriggerEvent, fields FieldSource) bool {
	for _, cond := range conditions {
		if !condition.Evaluate(cond.Operator, lookupField(cond.Field, event, fields), cond.Value) {
			return false
		}
	}

	return true
}

// lookupField reads the field from the event payload first, then from the
// entity. Event data wins so a status-changed condition sees the new status
// even before the entity read catches up.
func lookupField(field string, event models.TriggerEvent, fields FieldSource) any {
	if v, ok := event.Data[field]; ok {
		return v
	}

	if fields != nil {
		if v, ok := fields(field); ok {
			return v
		}
	}

	return nil
}

func configString(config map[string]any, key string) string {
	v, ok := config[key]
	if !ok {
		return ""
	}

	s, ok := v.(string)
	if !ok {
		return ""
	}

	return s
}

// wildcardEquals matches exactly, with empty config meaning "any".
func wildcardEquals(configured, actual string) bool {
	return configured == "" || configured == actual
}
