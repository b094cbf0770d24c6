// Package httpadapter implements the domain adapter against the CRM's
// internal HTTP API. It lets the engine run as a sidecar process: entity
// reads and action side effects travel over the API instead of a shared
// database.
package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/journeycrm/automation/pkg/adapter"
	"github.com/journeycrm/automation/pkg/models"
)

const defaultTimeout = 15 * time.Second

// Client is an Adapter plus SweepSource backed by the CRM internal API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for the CRM internal API at baseURL. The
// token goes out as a bearer credential on every request.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  logger.With("module", "http_adapter"),
	}
}

type entityPayload struct {
	Ref    models.EntityRef `json:"ref"`
	Fields map[string]any   `json:"fields"`
}

func (c *Client) ResolveEntity(ctx context.Context, ref models.EntityRef) (adapter.Entity, error) {
	var payload entityPayload

	path := fmt.Sprintf("/internal/entities/%s/%s", url.PathEscape(ref.Type), url.PathEscape(ref.ID))
	status, err := c.get(ctx, path, nil, &payload)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, adapter.ErrEntityNotFound
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("entity lookup returned status %d", status)
	}

	payload.Ref = ref
	return &payload, nil
}

func (c *Client) ApplyAction(ctx context.Context, actionType models.ActionType, config any, entity adapter.Entity) error {
	body := map[string]any{
		"action_type": actionType,
		"config":      config,
	}
	if payload, ok := entity.(*entityPayload); ok && payload != nil {
		body["entity"] = payload.Ref
	}

	status, err := c.post(ctx, "/internal/automation/actions", body)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("action %s returned status %d", actionType, status)
	}

	return nil
}

func (c *Client) FieldValue(entity adapter.Entity, field string) (any, bool) {
	payload, ok := entity.(*entityPayload)
	if !ok || payload == nil {
		return nil, false
	}

	v, ok := payload.Fields[field]
	return v, ok
}

type dueTaskPayload struct {
	Ref     models.EntityRef `json:"ref"`
	OrgID   string           `json:"org_id"`
	OwnerID string           `json:"owner_id"`
	DueAt   time.Time        `json:"due_at"`
}

func (c *Client) DueTasks(ctx context.Context, now time.Time, lookahead time.Duration, includeOverdue bool) ([]adapter.DueTask, error) {
	query := url.Values{
		"now":               {now.UTC().Format(time.RFC3339)},
		"lookahead_minutes": {strconv.Itoa(int(lookahead.Minutes()))},
		"include_overdue":   {strconv.FormatBool(includeOverdue)},
	}

	var payload []dueTaskPayload
	status, err := c.get(ctx, "/internal/automation/due-tasks", query, &payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("due task query returned status %d", status)
	}

	tasks := make([]adapter.DueTask, len(payload))
	for i, task := range payload {
		tasks[i] = adapter.DueTask{Ref: task.Ref, OrgID: task.OrgID, OwnerID: task.OwnerID, DueAt: task.DueAt}
	}
	return tasks, nil
}

type inactiveEntityPayload struct {
	Ref            models.EntityRef `json:"ref"`
	OrgID          string           `json:"org_id"`
	OwnerID        string           `json:"owner_id"`
	LastActivityAt time.Time        `json:"last_activity_at"`
}

func (c *Client) InactiveEntities(ctx context.Context, entityType string, now time.Time, window time.Duration) ([]adapter.InactiveEntity, error) {
	query := url.Values{
		"entity_type": {entityType},
		"now":         {now.UTC().Format(time.RFC3339)},
		"window_days": {strconv.Itoa(int(window.Hours() / 24))},
	}

	var payload []inactiveEntityPayload
	status, err := c.get(ctx, "/internal/automation/inactive-entities", query, &payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("inactivity query returned status %d", status)
	}

	entities := make([]adapter.InactiveEntity, len(payload))
	for i, entity := range payload {
		entities[i] = adapter.InactiveEntity{
			Ref:            entity.Ref,
			OrgID:          entity.OrgID,
			OwnerID:        entity.OwnerID,
			LastActivityAt: entity.LastActivityAt,
		}
	}
	return entities, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, target any) (int, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}

	return c.do(req, target)
}

func (c *Client) post(ctx context.Context, path string, body any) (int, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, target any) (int, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if target != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
		return resp.StatusCode, nil
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}
