package models

import "time"

// TriggerEvent is what the surrounding application (or the sweep driver)
// hands the engine when something happened. Data carries the type-specific
// payload, e.g. from_status/to_status for status changes.
type TriggerEvent struct {
	TriggerType TriggerType    `json:"trigger_type"`
	OrgID       string         `json:"org_id"`
	ActorID     string         `json:"actor_id,omitempty"` // User whose action caused the event, used for personal-scope matching
	Entity      EntityRef      `json:"entity"`
	Source      string         `json:"source"` // Event name or sweep tag
	Data        map[string]any `json:"data,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// DataString returns the named payload value as a string, or "" when absent.
func (e TriggerEvent) DataString(key string) string {
	v, ok := e.Data[key]
	if !ok {
		return ""
	}

	s, ok := v.(string)
	if !ok {
		return ""
	}

	return s
}
