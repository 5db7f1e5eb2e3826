package taskrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dataforge-ai/dataforge/internal/tlsutil"
	"github.com/dataforge-ai/dataforge/types"
)

// Config holds the configuration for the task-runner client.
type Config struct {
	// BaseURL is the base URL of the task-runner service (e.g. "http://localhost:8757").
	BaseURL string

	// APIKey is an optional bearer token for the task-runner.
	APIKey string

	// Timeout is the HTTP client timeout. Defaults to 120s if zero; sample
	// generation calls are slow, and no tighter per-request deadline is
	// enforced beyond the transport's.
	Timeout time.Duration

	// GeneratePath is the sample generation endpoint path.
	// Defaults to "/api/v1/generate_samples".
	GeneratePath string

	// ModelsPath is the available-models endpoint path.
	// Defaults to "/api/v1/available_models".
	ModelsPath string

	// BuildHeaders optionally overrides header construction per request.
	BuildHeaders func(req *http.Request, apiKey string)
}

// Client calls the task-runner's generation and model endpoints.
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New creates a task-runner client with the given config.
func New(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if cfg.GeneratePath == "" {
		cfg.GeneratePath = "/api/v1/generate_samples"
	}
	if cfg.ModelsPath == "" {
		cfg.ModelsPath = "/api/v1/available_models"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
		logger: logger.With(zap.String("component", "taskrunner_client")),
	}
}

// GenerateRequest is one synthetic-sample generation call for a single topic.
type GenerateRequest struct {
	TopicPath   []string `json:"topic_path"`
	NumSamples  int      `json:"num_samples"`
	ModelName   string   `json:"model_name"`
	Provider    string   `json:"provider"`
	Guidance    string   `json:"guidance,omitempty"`
	Kind        string   `json:"kind"`
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p"`
}

// RemoteModel is one model the task-runner reports as available.
type RemoteModel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// buildHeaders applies headers to the HTTP request.
func (c *Client) buildHeaders(req *http.Request) {
	if c.cfg.BuildHeaders != nil {
		c.cfg.BuildHeaders(req, c.cfg.APIKey)
		return
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")
}

// endpoint builds the full URL for a given path.
func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(c.cfg.BaseURL, "/"), path)
}

// Generate issues one generation call and returns the decoded item list.
// Transport failures and malformed responses both surface as topic-level
// errors; the caller records them per topic and never aborts siblings.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) ([]json.RawMessage, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.cfg.GeneratePath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.buildHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &types.Error{
			Code: types.ErrTransport, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: req.Provider,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := ReadErrorMessage(resp.Body)
		return nil, MapHTTPError(resp.StatusCode, msg, req.Provider)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &types.Error{
			Code: types.ErrTransport, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: req.Provider,
		}
	}

	items, err := ParseGenerateResponse(body)
	if err != nil {
		if e, ok := err.(*types.Error); ok {
			return nil, e.WithProvider(req.Provider)
		}
		return nil, err
	}

	c.logger.Debug("generation call succeeded",
		zap.Strings("topic_path", req.TopicPath),
		zap.String("model", req.ModelName),
		zap.Int("items", len(items)),
	)
	return items, nil
}

// ListModels returns the models the task-runner reports as available.
func (c *Client) ListModels(ctx context.Context) ([]RemoteModel, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(c.cfg.ModelsPath), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.buildHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &types.Error{
			Code: types.ErrTransport, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := ReadErrorMessage(resp.Body)
		return nil, MapHTTPError(resp.StatusCode, msg, "")
	}

	var out struct {
		Models []RemoteModel `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewError(types.ErrShape, "models response is not valid JSON").WithCause(err)
	}
	return out.Models, nil
}

// HealthCheck verifies the task-runner is reachable.
func (c *Client) HealthCheck(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/health"), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	c.buildHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return latency, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := ReadErrorMessage(resp.Body)
		return latency, fmt.Errorf("task-runner health check failed: status=%d msg=%s", resp.StatusCode, msg)
	}
	return latency, nil
}
