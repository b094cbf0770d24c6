// Package webhook delivers call_webhook payloads out of band. Deliveries
// arrive as queue jobs so a slow or dead endpoint never stalls the
// execution that requested them.
package webhook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/journeycrm/automation/pkg/audit"
	"github.com/journeycrm/automation/pkg/queue"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultAttempts = 3
	defaultDelaySec = 5
	maxAttempts     = 10
)

// Dispatcher delivers webhook jobs over HTTP with per-job retry policy.
type Dispatcher struct {
	client *http.Client
	audit  audit.Publisher
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a dispatcher. A nil client gets a default with a
// 30 second timeout.
func NewDispatcher(client *http.Client, auditBus audit.Publisher, logger *slog.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	return &Dispatcher{
		client: client,
		audit:  auditBus,
		logger: logger.With("module", "webhook"),
		sleep:  sleepContext,
	}
}

// HandleJob delivers one webhook job. Retries happen here, inside the job;
// after the last attempt the failure is recorded on the audit trail and the
// job is done.
func (d *Dispatcher) HandleJob(ctx context.Context, job *queue.Job) error {
	delivery := parseDelivery(job)
	if delivery.URL == "" {
		d.logger.Warn("Webhook job without url", "job_id", job.ID)
		return nil
	}

	logger := d.logger.With(
		"execution_id", delivery.ExecutionID,
		"url", delivery.URL,
		"attempts", delivery.Attempts)

	var lastErr error
	for attempt := 1; attempt <= delivery.Attempts; attempt++ {
		if attempt > 1 {
			if err := d.sleep(ctx, time.Duration(delivery.DelaySec)*time.Second); err != nil {
				return err
			}
		}

		if lastErr = d.deliver(ctx, delivery); lastErr == nil {
			logger.Info("Webhook delivered", "attempt", attempt)
			return nil
		}

		logger.Warn("Webhook delivery attempt failed", "attempt", attempt, "error", lastErr)
	}

	d.recordFailure(ctx, delivery, lastErr)
	return nil
}

type delivery struct {
	ExecutionID string
	WorkflowID  string
	OrgID       string
	URL         string
	Method      string
	Headers     map[string]string
	Body        string
	Attempts    int
	DelaySec    int
}

func parseDelivery(job *queue.Job) delivery {
	d := delivery{
		ExecutionID: stringValue(job.Payload, "execution_id"),
		WorkflowID:  stringValue(job.Payload, "workflow_id"),
		OrgID:       stringValue(job.Payload, "org_id"),
		URL:         stringValue(job.Payload, "url"),
		Method:      strings.ToUpper(stringValue(job.Payload, "method")),
		Body:        stringValue(job.Payload, "body"),
		Attempts:    intValue(job.Payload, "attempts"),
		DelaySec:    intValue(job.Payload, "delay_sec"),
		Headers:     make(map[string]string),
	}

	if raw, ok := job.Payload["headers"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				d.Headers[k] = s
			}
		}
	}

	if d.Method == "" {
		d.Method = http.MethodPost
	}
	if d.Attempts <= 0 {
		d.Attempts = defaultAttempts
	}
	if d.Attempts > maxAttempts {
		d.Attempts = maxAttempts
	}
	if d.DelaySec <= 0 {
		d.DelaySec = defaultDelaySec
	}

	return d
}

func (d *Dispatcher) deliver(ctx context.Context, dl delivery) error {
	var body io.Reader
	if dl.Body != "" {
		body = strings.NewReader(dl.Body)
	}

	req, err := http.NewRequestWithContext(ctx, dl.Method, dl.URL, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	if dl.Body != "" && dl.Headers["Content-Type"] == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range dl.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %s", resp.Status)
	}

	return nil
}

func (d *Dispatcher) recordFailure(ctx context.Context, dl delivery, cause error) {
	event := audit.Event{
		ID:          uuid.New().String(),
		Type:        audit.WebhookDeliveryFailed,
		OrgID:       dl.OrgID,
		WorkflowID:  dl.WorkflowID,
		ExecutionID: dl.ExecutionID,
		Actor:       "system",
		Timestamp:   time.Now().UTC(),
		Details: map[string]any{
			"url":      dl.URL,
			"attempts": dl.Attempts,
			"error":    fmt.Sprint(cause),
		},
	}

	if err := d.audit.Publish(ctx, event); err != nil {
		d.logger.Warn("Failed to publish delivery failure", "url", dl.URL, "error", err)
	}

	d.logger.Error("Webhook delivery exhausted retries",
		"execution_id", dl.ExecutionID,
		"url", dl.URL,
		"error", cause)
}

func stringValue(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

// intValue tolerates the float64 the JSON round trip produces.
func intValue(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
