package executors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclight-io/conveyor/pkg/schema"
)

func TestWebhookCallSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "abc", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"ext-1","ok":true}`))
	}))
	defer srv.Close()

	e := NewWebhookCallExecutor(WebhookConfig{})
	out, err := e.Execute(context.Background(), Input{Config: map[string]any{
		"url":     srv.URL,
		"body":    map[string]any{"event": "deal.won"},
		"headers": map[string]any{"X-Api-Key": "abc"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 200, out.Data["status_code"])
	body := out.Data["body"].(map[string]any)
	assert.Equal(t, "ext-1", body["id"])
}

func TestWebhookCallNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewWebhookCallExecutor(WebhookConfig{})
	_, err := e.Execute(context.Background(), Input{Config: map[string]any{"url": srv.URL}})
	require.Error(t, err)
	cvErr := err.(*schema.ConveyorError)
	// 4xx is not retryable.
	assert.Equal(t, schema.ErrCodeNonRetryable, cvErr.Code)
	assert.Equal(t, 404, cvErr.Details["status_code"])
}

func TestWebhookCallRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	e := NewWebhookCallExecutor(WebhookConfig{})
	out, err := e.Execute(context.Background(), Input{Config: map[string]any{
		"url": srv.URL,
		"retry": map[string]any{
			"max":     3.0,
			"backoff": "linear",
			"delay":   "1ms",
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 200, out.Data["status_code"])
}

func TestWebhookCallRetryExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewWebhookCallExecutor(WebhookConfig{})
	_, err := e.Execute(context.Background(), Input{Config: map[string]any{
		"url":   srv.URL,
		"retry": map[string]any{"max": 2.0, "delay": "1ms"},
	}})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeRetryExhausted, err.(*schema.ConveyorError).Code)
}

func TestWebhookCallExtract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"score":42}}`))
	}))
	defer srv.Close()

	e := NewWebhookCallExecutor(WebhookConfig{})
	out, err := e.Execute(context.Background(), Input{Config: map[string]any{
		"url":     srv.URL,
		"extract": ".body.data.score",
	}})
	require.NoError(t, err)
	assert.Equal(t, 42.0, out.Data["extracted"])
}

func TestWebhookCallValidation(t *testing.T) {
	e := NewWebhookCallExecutor(WebhookConfig{})

	_, err := e.Execute(context.Background(), Input{Config: map[string]any{}})
	require.Error(t, err)

	_, err = e.Execute(context.Background(), Input{Config: map[string]any{"url": "ftp://x"}})
	require.Error(t, err)
}

func TestWebhookCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	e := NewWebhookCallExecutor(WebhookConfig{})
	_, err := e.Execute(context.Background(), Input{Config: map[string]any{
		"url":     srv.URL,
		"timeout": "10ms",
	}})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDelivery, err.(*schema.ConveyorError).Code)
}
