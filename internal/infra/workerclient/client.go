// Package workerclient implements C2: a single-method typed HTTP client to
// one worker's generate endpoint. This client issues exactly one request
// per call and never retries; the router (C4) does not retry a failed
// worker call either.
package workerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nova-gateway/gateway/internal/domain"
)

// Client dispatches generate requests to workers over HTTP.
type Client struct {
	httpClient        *http.Client
	inferenceTimeout  time.Duration
	synthesisTimeout  time.Duration
}

// New constructs a Client with the given default timeouts. Per-call
// deadlines set via ctx still take precedence.
func New(inferenceTimeout, synthesisTimeout time.Duration) *Client {
	return &Client{
		httpClient:       &http.Client{},
		inferenceTimeout: inferenceTimeout,
		synthesisTimeout: synthesisTimeout,
	}
}

// Generate sends one generate request to w and returns its response along
// with the measured latency. Errors are classified per the worker error
// taxonomy and carry the worker's name.
func (c *Client) Generate(ctx context.Context, w domain.Worker, prompt string, maxTokens int) (domain.WorkerGenerateResponse, int64, error) {
	timeout := c.inferenceTimeout
	if w.IsAggregator() {
		timeout = c.synthesisTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(domain.WorkerGenerateRequest{Prompt: prompt, MaxTokens: maxTokens})
	if err != nil {
		return domain.WorkerGenerateResponse{}, 0, domain.WorkerFailure(w.Name, domain.WorkerMalformed, 0, err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/api/generate", w.Port)
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.WorkerGenerateResponse{}, 0, domain.WorkerFailure(w.Name, domain.WorkerMalformed, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return domain.WorkerGenerateResponse{}, elapsed, domain.WorkerFailure(w.Name, domain.WorkerTimeout, 0, err)
		}
		return domain.WorkerGenerateResponse{}, elapsed, domain.WorkerFailure(w.Name, domain.WorkerUnreachable, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.WorkerGenerateResponse{}, elapsed, domain.WorkerFailure(w.Name, domain.WorkerHTTP, resp.StatusCode, nil)
	}

	var out domain.WorkerGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.WorkerGenerateResponse{}, elapsed, domain.WorkerFailure(w.Name, domain.WorkerMalformed, 0, err)
	}

	return out, elapsed, nil
}
