// Package checks runs post-deployment validation probes: HTTP health
// endpoints, TCP connectivity, and host commands. Probes run concurrently
// with bounded parallelism and feed both one-shot validation and the
// continuous release monitor.
package checks

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// RetryConfig controls transient-failure retries for HTTP probes.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig retries three times with exponential backoff capped at
// ten seconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryableStatus reports whether an HTTP status code is worth retrying:
// rate limiting and server-side errors are, client errors are not.
func RetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// NextDelay computes the backoff delay for an attempt (0-based).
func (c RetryConfig) NextDelay(attempt int) time.Duration {
	delay := c.InitialDelay
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.BackoffFactor)
		if delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// RetryingClient wraps an http.Client with retry-on-transient-failure.
type RetryingClient struct {
	client *http.Client
	config RetryConfig
}

// NewRetryingClient builds a retrying client. A nil base uses a client with
// a ten second timeout.
func NewRetryingClient(base *http.Client, config RetryConfig) *RetryingClient {
	if base == nil {
		base = &http.Client{Timeout: 10 * time.Second}
	}
	return &RetryingClient{client: base, config: config}
}

// Get fetches url, retrying connection errors and retryable status codes.
// The final response is returned even when its status is retryable, so the
// caller can report the observed status.
func (c *RetryingClient) Get(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error
	var resp *http.Response

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.NextDelay(attempt - 1)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, lastErr = c.client.Do(req)
		if lastErr != nil {
			continue
		}
		if !RetryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if attempt < c.config.MaxRetries {
			resp.Body.Close()
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("request failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
	}
	return resp, nil
}
