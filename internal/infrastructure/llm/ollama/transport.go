package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kirillkom/answer-pipeline/internal/core/domain"
	"github.com/kirillkom/answer-pipeline/internal/infrastructure/resilience"
)

// WithExecutor routes all collaborator calls through the retry/breaker
// executor. Without one, calls go straight to the HTTP client.
func (c *Client) WithExecutor(executor *resilience.Executor) *Client {
	c.executor = executor
	return c
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	call := func(callCtx context.Context) error {
		return c.doPost(callCtx, path, payload, out, operation)
	}

	if c.executor == nil {
		return call(ctx)
	}
	err := c.executor.Do(ctx, "ollama."+operation, call, classifyOllamaError)
	if err != nil && resilience.IsCircuitOpen(err) {
		// An open breaker heals on its own; callers can treat it like any
		// other transient collaborator outage.
		return domain.WrapError(domain.ErrTemporary, "ollama "+operation, err)
	}
	return err
}

func (c *Client) doPost(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return newHTTPStatusError(operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func newHTTPStatusError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &HTTPStatusError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
}
