// Package pms executes tool calls against the practice-management API.
// It owns the closed operation registry, argument schema checks, and the
// normalization of upstream responses into the shared error taxonomy.
package pms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/frontdesk-ai/frontdesk/pkg/core"
)

// Caller issues one named operation against the practice system.
type Caller interface {
	Call(ctx context.Context, operation string, params map[string]any) (json.RawMessage, error)
}

// Client is the HTTP Caller. The practice API speaks a single envelope:
// {success:true, data} on success, {success:false, errorCode, message} on
// business failure.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient builds an HTTP practice-system client.
func NewClient(baseURL, apiKey string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

type callRequest struct {
	Operation  string         `json:"operationName"`
	Parameters map[string]any `json:"parameters"`
}

type callResponse struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	ErrorCode string          `json:"errorCode,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Call posts one operation and normalizes the envelope. Network faults,
// timeouts, and 5xx responses come back as transient errors; business
// failures come back as api errors carrying the upstream code so the
// planner can read them and self-correct.
func (c *Client) Call(ctx context.Context, operation string, params map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(callRequest{Operation: operation, Parameters: params})
	if err != nil {
		return nil, fmt.Errorf("encode call request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/operations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, core.NewTransientUpstreamError("pms", err)
		}
		return nil, core.NewTransientUpstreamError("pms", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, core.NewTransientUpstreamError("pms", err)
	}

	if resp.StatusCode >= 500 {
		return nil, core.NewTransientUpstreamError("pms", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, &core.Error{
			Type:    core.ErrAPI,
			Message: fmt.Sprintf("practice system rejected %s: status %d", operation, resp.StatusCode),
			Code:    fmt.Sprintf("http_%d", resp.StatusCode),
		}
	}

	var envelope callResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, core.NewTransientUpstreamError("pms", fmt.Errorf("malformed response: %w", err))
	}
	if !envelope.Success {
		c.log.Warn("pms operation failed",
			slog.String("operation", operation),
			slog.String("error_code", envelope.ErrorCode))
		return nil, &core.Error{
			Type:    core.ErrAPI,
			Message: envelope.Message,
			Code:    envelope.ErrorCode,
		}
	}
	if len(envelope.Data) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return envelope.Data, nil
}
