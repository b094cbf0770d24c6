// Package models defines the core domain models for the automation workflow engine.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Scope controls who a workflow definition fires for.
type Scope string

const (
	ScopeOrg      Scope = "org"      // Fires for every matching event in the organization
	ScopePersonal Scope = "personal" // Fires only for events acted on by the owning user
)

// TriggerType identifies what kind of occurrence starts a workflow.
type TriggerType string

const (
	TriggerStatusChanged     TriggerType = "status_changed"
	TriggerFieldUpdated      TriggerType = "field_updated"
	TriggerScheduledCron     TriggerType = "scheduled_cron"
	TriggerTaskDue           TriggerType = "task_due"
	TriggerInactivity        TriggerType = "inactivity"
	TriggerFormSubmitted     TriggerType = "form_submitted"
	TriggerIntakeLeadCreated TriggerType = "intake_lead_created"
)

// EventDriven reports whether the trigger type is pushed by a domain event,
// as opposed to being fired by the periodic sweep driver.
func (t TriggerType) EventDriven() bool {
	switch t {
	case TriggerStatusChanged, TriggerFieldUpdated, TriggerFormSubmitted, TriggerIntakeLeadCreated:
		return true
	default:
		return false
	}
}

// NaturallyIdempotent reports whether re-delivery of the same triggering event
// must collapse into a single active execution per (workflow, entity) pair.
func (t TriggerType) NaturallyIdempotent() bool {
	return t == TriggerStatusChanged
}

// Condition is a single field comparison. A definition's condition list is
// AND-combined; there is no OR support.
type Condition struct {
	Field    string `json:"field"    validate:"required"`
	Operator string `json:"operator" validate:"required"`
	Value    string `json:"value"`
}

// WorkflowDefinition is an organization-scoped automation rule: when the
// trigger fires and every condition holds, run the action list in order.
// The engine treats definitions as read-only; they are edited only through
// the definition CRUD surface.
type WorkflowDefinition struct {
	ID             string         `json:"id"`
	OrgID          string         `json:"org_id"          validate:"required"`
	Name           string         `json:"name"            validate:"required,min=3"`
	Description    string         `json:"description"`
	Scope          Scope          `json:"scope"           validate:"required,oneof=org personal"`
	OwnerID        string         `json:"owner_id,omitempty"`
	TriggerType    TriggerType    `json:"trigger_type"    validate:"required"`
	TriggerConfig  map[string]any `json:"trigger_config"`
	Conditions     []Condition    `json:"conditions"`
	Actions        []*ActionItem  `json:"actions"`
	Enabled        bool           `json:"enabled"`
	RequiresReview bool           `json:"requires_review"` // AI-generated or imported rules stay disabled until reviewed
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty"`
}

// CronTriggerConfig is the typed payload of a scheduled_cron trigger.
type CronTriggerConfig struct {
	Expression string `json:"cron_expression" validate:"required"`
	Timezone   string `json:"timezone"`
}

// StatusChangedTriggerConfig is the typed payload of a status_changed trigger.
// Empty FromStatus or ToStatus matches any value.
type StatusChangedTriggerConfig struct {
	EntityType string `json:"entity_type"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
}

// FieldUpdatedTriggerConfig is the typed payload of a field_updated trigger.
type FieldUpdatedTriggerConfig struct {
	EntityType string `json:"entity_type"`
	Field      string `json:"field"`
}

// TaskDueTriggerConfig is the typed payload of a task_due trigger.
type TaskDueTriggerConfig struct {
	LookaheadMinutes int  `json:"lookahead_minutes"`
	IncludeOverdue   bool `json:"include_overdue"`
}

// InactivityTriggerConfig is the typed payload of an inactivity trigger.
type InactivityTriggerConfig struct {
	EntityType string `json:"entity_type" validate:"required"`
	WindowDays int    `json:"window_days" validate:"required,min=1"`
}

// FormSubmittedTriggerConfig is the typed payload of a form_submitted trigger.
// Empty FormID matches submissions of any form.
type FormSubmittedTriggerConfig struct {
	FormID string `json:"form_id"`
}

// IntakeLeadCreatedTriggerConfig is the typed payload of an
// intake_lead_created trigger. Empty Source matches leads from any channel.
type IntakeLeadCreatedTriggerConfig struct {
	Source string `json:"source"`
}

// DecodeTriggerConfig unmarshals the raw trigger configuration into the
// given typed config struct.
func (d *WorkflowDefinition) DecodeTriggerConfig(target any) error {
	raw, err := json.Marshal(d.TriggerConfig)
	if err != nil {
		return fmt.Errorf("failed to encode trigger config: %w", err)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to decode trigger config: %w", err)
	}

	return nil
}
