package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/arclight-io/conveyor/internal/expressions"
	"github.com/arclight-io/conveyor/pkg/schema"
)

// WebhookConfig configures the webhook_call executor.
type WebhookConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	MaxRedirects    int
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultWebhookTimeout  = 30 * time.Second
	defaultMaxRedirects    = 10
)

const webhookCallInputSchema = `{
  "type": "object",
  "properties": {
    "method": {"type": "string", "default": "POST"},
    "url": {"type": "string"},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "body": {},
    "timeout": {"type": "string"},
    "extract": {"type": "string"},
    "retry": {
      "type": "object",
      "properties": {
        "max": {"type": "integer"},
        "backoff": {"type": "string", "enum": ["none", "linear", "exponential"]},
        "delay": {"type": "string"}
      }
    }
  },
  "required": ["url"]
}`

// WebhookCallExecutor implements the "webhook_call" action: an outbound
// HTTP request whose response becomes the step output. A non-2xx status is
// a step failure. The optional "extract" param is a jq expression applied
// to the parsed response body.
type WebhookCallExecutor struct {
	config WebhookConfig
	jq     *expressions.GoJQEngine
}

// NewWebhookCallExecutor creates a webhook_call executor.
func NewWebhookCallExecutor(cfg WebhookConfig) *WebhookCallExecutor {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultWebhookTimeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	return &WebhookCallExecutor{config: cfg, jq: expressions.NewGoJQEngine()}
}

func (e *WebhookCallExecutor) Name() schema.ActionType { return schema.ActionWebhookCall }

func (e *WebhookCallExecutor) Schema() ExecutorSchema {
	return ExecutorSchema{
		Description: "Call an external HTTP endpoint; the response body becomes the step output.",
		InputSchema: json.RawMessage(webhookCallInputSchema),
	}
}

func (e *WebhookCallExecutor) Validate(config map[string]any) error {
	rawURL := stringParam(config, "url", "")
	if rawURL == "" {
		return schema.NewError(schema.ErrCodeValidation, "webhook_call: missing required param 'url'")
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return schema.NewErrorf(schema.ErrCodeValidation, "webhook_call: invalid url %q", rawURL)
	}
	return nil
}

func (e *WebhookCallExecutor) Execute(ctx context.Context, input Input) (*Output, error) {
	if err := e.Validate(input.Config); err != nil {
		return nil, err
	}

	policy := parseRetry(input.Config)

	var lastErr error
	for attempt := 0; attempt <= policy.Max; attempt++ {
		if attempt > 0 {
			if err := waitBackoff(ctx, policy, attempt); err != nil {
				return nil, schema.NewError(schema.ErrCodeCancelled, "webhook_call: cancelled during backoff").WithCause(err)
			}
		}

		out, err := e.attempt(ctx, input)
		if err == nil {
			return out, nil
		}
		lastErr = err

		// Client errors (4xx, bad config) do not get retried.
		if cvErr, ok := err.(*schema.ConveyorError); ok && cvErr.Code == schema.ErrCodeNonRetryable {
			return nil, err
		}
	}

	if policy.Max > 0 {
		return nil, schema.NewErrorf(schema.ErrCodeRetryExhausted,
			"webhook_call: %d attempts failed: %s", policy.Max+1, lastErr.Error()).WithCause(lastErr)
	}
	return nil, lastErr
}

func (e *WebhookCallExecutor) attempt(ctx context.Context, input Input) (*Output, error) {
	params := input.Config

	method := strings.ToUpper(stringParam(params, "method", "POST"))
	rawURL := stringParam(params, "url", "")

	timeout := e.config.DefaultTimeout
	if ts := stringParam(params, "timeout", ""); ts != "" {
		if d, err := time.ParseDuration(ts); err == nil {
			timeout = d
		}
	}

	var bodyReader io.Reader
	if rawBody, ok := params["body"]; ok && rawBody != nil {
		b, err := json.Marshal(rawBody)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeExecution, "webhook_call: failed to marshal body as JSON").WithCause(err)
		}
		bodyReader = strings.NewReader(string(b))
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "webhook_call: failed to create request").WithCause(err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if hdrs := mapParam(params, "headers"); hdrs != nil {
		for k, v := range hdrs {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	limit := e.config.MaxRedirects
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= limit {
				return fmt.Errorf("stopped after %d redirects", limit)
			}
			return nil
		},
	}

	start := time.Now()
	resp, err := client.Do(req)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeDelivery, "webhook_call: request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, e.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeDelivery, "webhook_call: failed to read response body").WithCause(err)
	}

	respContentType := resp.Header.Get("Content-Type")
	var parsedBody any
	if len(bodyBytes) == 0 {
		parsedBody = nil
	} else if strings.Contains(respContentType, "application/json") {
		var jsonBody any
		if err := json.Unmarshal(bodyBytes, &jsonBody); err == nil {
			parsedBody = jsonBody
		} else {
			parsedBody = string(bodyBytes)
		}
	} else {
		parsedBody = string(bodyBytes)
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"body":        parsedBody,
		"duration_ms": durationMs,
	}

	// Non-2xx is a step failure; 4xx is not worth retrying, 5xx is.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code := schema.ErrCodeDelivery
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			code = schema.ErrCodeNonRetryable
		}
		return nil, schema.NewErrorf(code, "webhook_call: endpoint returned %d", resp.StatusCode).
			WithDetails(result)
	}

	// Optional jq extraction over the parsed response.
	if extract := stringParam(params, "extract", ""); extract != "" {
		extracted, err := e.jq.Evaluate(ctx, extract, map[string]any{"body": parsedBody})
		if err != nil {
			return nil, err
		}
		result["extracted"] = extracted
	}

	return &Output{Data: result}, nil
}

// retryPolicy is the parsed "retry" config block.
type retryPolicy struct {
	Max     int
	Backoff string
	Delay   time.Duration
}

func parseRetry(config map[string]any) retryPolicy {
	p := retryPolicy{Backoff: "none", Delay: time.Second}
	raw := mapParam(config, "retry")
	if raw == nil {
		return p
	}
	p.Max = intParam(raw, "max", 0)
	if p.Max < 0 {
		p.Max = 0
	}
	if b := stringParam(raw, "backoff", ""); b != "" {
		p.Backoff = b
	}
	if ds := stringParam(raw, "delay", ""); ds != "" {
		if d, err := time.ParseDuration(ds); err == nil {
			p.Delay = d
		}
	}
	return p
}

// waitBackoff sleeps before retry attempt n (1-based), honoring cancellation.
func waitBackoff(ctx context.Context, p retryPolicy, attempt int) error {
	var wait time.Duration
	switch p.Backoff {
	case "linear":
		wait = p.Delay * time.Duration(attempt)
	case "exponential":
		wait = p.Delay * time.Duration(1<<(attempt-1))
	default:
		wait = p.Delay
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
