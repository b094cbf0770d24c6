package models

import (
	"encoding/json"
	"fmt"
)

// ActionType identifies a dispatchable action kind. The set is closed;
// unknown types are rejected at definition-save time by the catalog.
type ActionType string

const (
	ActionSendEmail        ActionType = "send_email"
	ActionCreateTask       ActionType = "create_task"
	ActionAssignEntity     ActionType = "assign_entity"
	ActionSendNotification ActionType = "send_notification"
	ActionUpdateField      ActionType = "update_field"
	ActionAddNote          ActionType = "add_note"
	ActionChangeStatus     ActionType = "change_status"
	ActionRequestApproval  ActionType = "request_approval"
	ActionCallWebhook      ActionType = "call_webhook"
)

// ActionItem is one entry of a definition's ordered action list.
type ActionItem struct {
	ID            string         `json:"id"`
	Type          ActionType     `json:"type" validate:"required"`
	Name          string         `json:"name"`
	Condition     *Condition     `json:"condition,omitempty"` // Inline gate; false skips the action, the cursor still advances
	Configuration map[string]any `json:"configuration"`
	BestEffort    bool           `json:"best_effort,omitempty"` // Failure is recorded but does not fail the execution
}

// Typed configuration payloads, one per action tag. The loose Configuration
// map is what gets persisted; DecodeConfig gives executors the fixed shape.

type SendEmailConfig struct {
	TemplateID string `json:"template_id" validate:"required"`
	To         string `json:"to"` // Recipient selector, e.g. "entity_owner" or an address
}

type CreateTaskConfig struct {
	Title      string `json:"title" validate:"required"`
	AssigneeID string `json:"assignee_id"`
	DueInDays  int    `json:"due_in_days"`
}

type AssignEntityConfig struct {
	AssigneeID string `json:"assignee_id" validate:"required"`
}

type SendNotificationConfig struct {
	Message    string `json:"message" validate:"required"`
	Recipients string `json:"recipients"` // "entity_owner", "org_admins" or a user id
}

type UpdateFieldConfig struct {
	Field string `json:"field" validate:"required"`
	Value string `json:"value"`
}

type AddNoteConfig struct {
	Body string `json:"body" validate:"required"`
}

type ChangeStatusConfig struct {
	Status string `json:"status" validate:"required"`
}

type RequestApprovalConfig struct {
	ApproverPolicy       string `json:"approver_policy"` // "entity_owner", "org_admins" or a user id
	TimeoutBusinessHours int    `json:"timeout_business_hours"`
}

type CallWebhookConfig struct {
	URL     string            `json:"url" validate:"required,url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
	Retry   WebhookRetry      `json:"retry"`
}

type WebhookRetry struct {
	Attempts int `json:"attempts"`
	DelaySec int `json:"delay_sec"`
}

// DecodeConfig converts the stored configuration map into the typed payload
// for the action's tag.
func (a *ActionItem) DecodeConfig() (any, error) {
	var target any

	switch a.Type {
	case ActionSendEmail:
		target = &SendEmailConfig{}
	case ActionCreateTask:
		target = &CreateTaskConfig{}
	case ActionAssignEntity:
		target = &AssignEntityConfig{}
	case ActionSendNotification:
		target = &SendNotificationConfig{}
	case ActionUpdateField:
		target = &UpdateFieldConfig{}
	case ActionAddNote:
		target = &AddNoteConfig{}
	case ActionChangeStatus:
		target = &ChangeStatusConfig{}
	case ActionRequestApproval:
		target = &RequestApprovalConfig{}
	case ActionCallWebhook:
		target = &CallWebhookConfig{}
	default:
		return nil, fmt.Errorf("unknown action type %q", a.Type)
	}

	raw, err := json.Marshal(a.Configuration)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal configuration for action %s: %w", a.ID, err)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("failed to decode configuration for action %s: %w", a.ID, err)
	}

	return target, nil
}

// ApprovalConfig decodes the configuration of a request_approval action.
func (a *ActionItem) ApprovalConfig() (*RequestApprovalConfig, error) {
	cfg, err := a.DecodeConfig()
	if err != nil {
		return nil, err
	}

	approval, ok := cfg.(*RequestApprovalConfig)
	if !ok {
		return nil, fmt.Errorf("action %s is not a request_approval action", a.ID)
	}

	return approval, nil
}

// WebhookConfig decodes the configuration of a call_webhook action.
func (a *ActionItem) WebhookConfig() (*CallWebhookConfig, error) {
	cfg, err := a.DecodeConfig()
	if err != nil {
		return nil, err
	}

	webhook, ok := cfg.(*CallWebhookConfig)
	if !ok {
		return nil, fmt.Errorf("action %s is not a call_webhook action", a.ID)
	}

	return webhook, nil
}
