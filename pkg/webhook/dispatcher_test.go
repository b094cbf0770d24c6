package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journeycrm/automation/pkg/audit"
	"github.com/journeycrm/automation/pkg/queue"
)

func newDispatcher(bus *audit.MemoryPublisher) *Dispatcher {
	d := NewDispatcher(nil, bus, slog.New(slog.DiscardHandler))
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

func webhookJob(url string, attempts int) *queue.Job {
	return &queue.Job{
		ID:   "job-1",
		Type: queue.JobTypeWebhookDispatch,
		Payload: map[string]any{
			"execution_id": "exec-1",
			"workflow_id":  "wf-1",
			"org_id":       "org-1",
			"url":          url,
			"method":       "POST",
			"headers":      map[string]any{"X-Signature": "abc"},
			"body":         `{"lead_id":"lead-1"}`,
			"attempts":     float64(attempts),
			"delay_sec":    float64(1),
		},
	}
}

func TestHandleJobDelivers(t *testing.T) {
	var gotBody atomic.Value
	var gotHeader atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(string(body))
		gotHeader.Store(r.Header.Get("X-Signature"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	bus := audit.NewMemoryPublisher()
	d := newDispatcher(bus)

	require.NoError(t, d.HandleJob(context.Background(), webhookJob(server.URL, 3)))

	assert.Equal(t, `{"lead_id":"lead-1"}`, gotBody.Load())
	assert.Equal(t, "abc", gotHeader.Load())
	assert.Empty(t, bus.Events())
}

func TestHandleJobRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	bus := audit.NewMemoryPublisher()
	d := newDispatcher(bus)

	require.NoError(t, d.HandleJob(context.Background(), webhookJob(server.URL, 5)))

	assert.Equal(t, int32(3), calls.Load())
	assert.Empty(t, bus.EventsOfType(audit.WebhookDeliveryFailed))
}

func TestHandleJobExhaustedRetriesRecorded(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	bus := audit.NewMemoryPublisher()
	d := newDispatcher(bus)

	require.NoError(t, d.HandleJob(context.Background(), webhookJob(server.URL, 2)))

	assert.Equal(t, int32(2), calls.Load())

	failures := bus.EventsOfType(audit.WebhookDeliveryFailed)
	require.Len(t, failures, 1)
	assert.Equal(t, "exec-1", failures[0].ExecutionID)
	assert.Equal(t, server.URL, failures[0].Details["url"])
}

func TestHandleJobDefaults(t *testing.T) {
	job := &queue.Job{
		Type:    queue.JobTypeWebhookDispatch,
		Payload: map[string]any{"url": "https://hooks.example.com"},
	}

	d := parseDelivery(job)
	assert.Equal(t, http.MethodPost, d.Method)
	assert.Equal(t, defaultAttempts, d.Attempts)
	assert.Equal(t, defaultDelaySec, d.DelaySec)

	// Missing url is dropped, not retried forever.
	bus := audit.NewMemoryPublisher()
	require.NoError(t, newDispatcher(bus).HandleJob(context.Background(), &queue.Job{Payload: map[string]any{}}))
	assert.Empty(t, bus.Events())
}
