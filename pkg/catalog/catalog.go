// Package catalog holds the static allow-lists of trigger types, action
// types and condition fields, and validates workflow definitions against
// them before they may be enabled. Invalid configuration is rejected at save
// time, never discovered at run time.
package catalog

import (
	"github.com/journeycrm/automation/pkg/models"
)

// TriggerSpec describes one allowed trigger type and the shape of its
// configuration payload.
type TriggerSpec struct {
	Type         models.TriggerType
	Name         string
	Description  string
	ConfigSchema map[string]any
}

// ActionSpec describes one allowed action type and the shape of its
// configuration payload.
type ActionSpec struct {
	Type         models.ActionType
	Name         string
	Description  string
	ConfigSchema map[string]any
}

// TriggerSpecs is the closed set of trigger types the engine accepts.
var TriggerSpecs = map[models.TriggerType]*TriggerSpec{
	models.TriggerStatusChanged: {
		Type:        models.TriggerStatusChanged,
		Name:        "Status changed",
		Description: "Fires when an entity moves between statuses",
		ConfigSchema: objectSchema(map[string]any{
			"entity_type": stringProp("Entity type the transition applies to, empty for any"),
			"from_status": stringProp("Previous status, empty matches any"),
			"to_status":   stringProp("New status, empty matches any"),
		}, nil),
	},
	models.TriggerFieldUpdated: {
		Type:        models.TriggerFieldUpdated,
		Name:        "Field updated",
		Description: "Fires when a watched field changes value",
		ConfigSchema: objectSchema(map[string]any{
			"entity_type": stringProp("Entity type carrying the field"),
			"field":       stringProp("Field name to watch"),
		}, []string{"field"}),
	},
	models.TriggerScheduledCron: {
		Type:        models.TriggerScheduledCron,
		Name:        "Recurring schedule",
		Description: "Fires on a 5-field cron expression in the configured timezone",
		ConfigSchema: objectSchema(map[string]any{
			"cron_expression": stringProp("Standard 5-field cron expression"),
			"timezone":        stringProp("IANA timezone name, defaults to UTC"),
		}, []string{"cron_expression"}),
	},
	models.TriggerTaskDue: {
		Type:        models.TriggerTaskDue,
		Name:        "Task due",
		Description: "Fires when a task's due time enters the lookahead window or has passed",
		ConfigSchema: objectSchema(map[string]any{
			"lookahead_minutes": intProp("Minutes ahead of the due time to fire"),
			"include_overdue":   boolProp("Also fire for already-overdue tasks"),
		}, nil),
	},
	models.TriggerInactivity: {
		Type:        models.TriggerInactivity,
		Name:        "Inactivity",
		Description: "Fires for entities with no qualifying activity inside the window",
		ConfigSchema: objectSchema(map[string]any{
			"entity_type": stringProp("Entity type to scan"),
			"window_days": intProp("Days without activity before firing"),
		}, []string{"entity_type", "window_days"}),
	},
	models.TriggerFormSubmitted: {
		Type:        models.TriggerFormSubmitted,
		Name:        "Form submitted",
		Description: "Fires when an intake or questionnaire form is submitted",
		ConfigSchema: objectSchema(map[string]any{
			"form_id": stringProp("Form identifier, empty matches any form"),
		}, nil),
	},
	models.TriggerIntakeLeadCreated: {
		Type:        models.TriggerIntakeLeadCreated,
		Name:        "Intake lead created",
		Description: "Fires when a new lead enters the intake pipeline",
		ConfigSchema: objectSchema(map[string]any{
			"source": stringProp("Lead source channel, empty matches any"),
		}, nil),
	},
}

// ActionSpecs is the closed set of action types the executor dispatches.
var ActionSpecs = map[models.ActionType]*ActionSpec{
	models.ActionSendEmail: {
		Type:        models.ActionSendEmail,
		Name:        "Send email",
		Description: "Sends a templated email through the outbound-communication service",
		ConfigSchema: objectSchema(map[string]any{
			"template_id": stringProp("Email template identifier"),
			"to":          stringProp("Recipient selector or address"),
		}, []string{"template_id"}),
	},
	models.ActionCreateTask: {
		Type:        models.ActionCreateTask,
		Name:        "Create task",
		Description: "Creates a task attached to the target entity",
		ConfigSchema: objectSchema(map[string]any{
			"title":       stringProp("Task title"),
			"assignee_id": stringProp("User the task is assigned to"),
			"due_in_days": intProp("Days until the task is due"),
		}, []string{"title"}),
	},
	models.ActionAssignEntity: {
		Type:        models.ActionAssignEntity,
		Name:        "Assign entity",
		Description: "Reassigns the target entity to a user",
		ConfigSchema: objectSchema(map[string]any{
			"assignee_id": stringProp("User to assign the entity to"),
		}, []string{"assignee_id"}),
	},
	models.ActionSendNotification: {
		Type:        models.ActionSendNotification,
		Name:        "Send notification",
		Description: "Sends an in-app notification",
		ConfigSchema: objectSchema(map[string]any{
			"message":    stringProp("Notification body"),
			"recipients": stringProp("Recipient selector"),
		}, []string{"message"}),
	},
	models.ActionUpdateField: {
		Type:        models.ActionUpdateField,
		Name:        "Update field",
		Description: "Writes a value into a field of the target entity",
		ConfigSchema: objectSchema(map[string]any{
			"field": stringProp("Field to update"),
			"value": stringProp("New value"),
		}, []string{"field"}),
	},
	models.ActionAddNote: {
		Type:        models.ActionAddNote,
		Name:        "Add note",
		Description: "Appends a note to the target entity",
		ConfigSchema: objectSchema(map[string]any{
			"body": stringProp("Note body"),
		}, []string{"body"}),
	},
	models.ActionChangeStatus: {
		Type:        models.ActionChangeStatus,
		Name:        "Change status",
		Description: "Moves the target entity to a new status",
		ConfigSchema: objectSchema(map[string]any{
			"status": stringProp("Status to move the entity to"),
		}, []string{"status"}),
	},
	models.ActionRequestApproval: {
		Type:        models.ActionRequestApproval,
		Name:        "Request approval",
		Description: "Suspends the execution until a human approves or denies",
		ConfigSchema: objectSchema(map[string]any{
			"approver_policy":        stringProp("Who may decide: entity_owner, org_admins or a user id"),
			"timeout_business_hours": intProp("Business hours before the gate expires, default 48"),
		}, nil),
	},
	models.ActionCallWebhook: {
		Type:        models.ActionCallWebhook,
		Name:        "Call webhook",
		Description: "Dispatches an HTTP request through the async job queue",
		ConfigSchema: objectSchema(map[string]any{
			"url":     stringProp("Webhook URL"),
			"method":  stringProp("HTTP method, defaults to POST"),
			"headers": map[string]any{"type": "object", "description": "Extra request headers"},
			"body":    stringProp("Request body template"),
			"retry": map[string]any{
				"type":        "object",
				"description": "Queue-side retry policy",
				"properties": map[string]any{
					"attempts":  intProp("Delivery attempts"),
					"delay_sec": intProp("Backoff base delay in seconds"),
				},
			},
		}, []string{"url"}),
	},
}

// ConditionFields lists the fields conditions may reference, per entity type.
var ConditionFields = map[string][]string{
	"surrogate": {
		"status", "stage", "owner_id", "email", "phone", "state",
		"journey_phase", "agency_id", "match_status",
	},
	"intended_parent": {
		"status", "stage", "owner_id", "email", "phone", "country",
		"budget_band", "match_status",
	},
	"case": {
		"status", "case_manager_id", "phase", "priority", "surrogate_id",
		"intended_parent_id",
	},
	"task": {
		"status", "assignee_id", "due_at", "priority", "category",
	},
	"lead": {
		"status", "source", "owner_id", "email", "score",
	},
	"appointment": {
		"status", "kind", "scheduled_at", "owner_id",
	},
}

// KnownTriggerType reports whether the trigger type is in the catalog.
func KnownTriggerType(t models.TriggerType) bool {
	_, ok := TriggerSpecs[t]
	return ok
}

// KnownActionType reports whether the action type is in the catalog.
func KnownActionType(t models.ActionType) bool {
	_, ok := ActionSpecs[t]
	return ok
}

// FieldAllowed reports whether a condition may reference the field. When the
// definition pins an entity type the field must belong to it; otherwise any
// cataloged field is accepted.
func FieldAllowed(entityType, field string) bool {
	if entityType != "" {
		fields, ok := ConditionFields[entityType]
		if !ok {
			return false
		}

		return containsString(fields, field)
	}

	for _, fields := range ConditionFields {
		if containsString(fields, field) {
			return true
		}
	}

	return false
}

func containsString(list []string, v string) bool {
	for _, entry := range list {
		if entry == v {
			return true
		}
	}

	return false
}

// Schema building helpers.

func objectSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func intProp(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description, "minimum": 0}
}

func boolProp(description string) map[string]any {
	return map[string]any{"type": "boolean", "description": description}
}
