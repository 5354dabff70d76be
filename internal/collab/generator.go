package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arclight-io/conveyor/pkg/schema"
)

const defaultGeneratorTimeout = 60 * time.Second

// GeneratorConfig configures the HTTP text generator.
type GeneratorConfig struct {
	Endpoint string        // completion endpoint URL
	APIKey   string        // optional bearer token
	Model    string        // default model name sent with each request
	Timeout  time.Duration // per-request timeout, default 60s
}

// HTTPGenerator produces text by POSTing the prompt to a configured
// completion endpoint. The wire shape is a minimal JSON contract:
// request {"model","prompt","options"}, response {"text"}.
type HTTPGenerator struct {
	cfg    GeneratorConfig
	client *http.Client
}

// NewHTTPGenerator creates an HTTPGenerator.
func NewHTTPGenerator(cfg GeneratorConfig) *HTTPGenerator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGeneratorTimeout
	}
	return &HTTPGenerator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Generate sends the prompt to the endpoint and returns the produced text.
func (g *HTTPGenerator) Generate(ctx context.Context, prompt string, opts map[string]any) (string, error) {
	if g.cfg.Endpoint == "" {
		return "", schema.NewError(schema.ErrCodeExecution, "no generator endpoint configured")
	}

	reqBody := map[string]any{"prompt": prompt}
	if g.cfg.Model != "" {
		reqBody["model"] = g.cfg.Model
	}
	if len(opts) > 0 {
		reqBody["options"] = opts
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeExecution, "generator request failed: %s", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeExecution, "read generator response: %s", err.Error()).WithCause(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", schema.NewErrorf(schema.ErrCodeExecution,
			"generator returned status %d", resp.StatusCode).
			WithDetails(map[string]any{"body": string(body)})
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeExecution, "decode generator response: %s", err.Error()).WithCause(err)
	}
	return out.Text, nil
}
