package checks

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vabhub/convoy/internal/core/manifest"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

// =============================================================================
// Retry Tests
// =============================================================================

func TestRetryableStatus(t *testing.T) {
	assert.True(t, RetryableStatus(http.StatusTooManyRequests))
	assert.True(t, RetryableStatus(http.StatusInternalServerError))
	assert.True(t, RetryableStatus(http.StatusBadGateway))
	assert.False(t, RetryableStatus(http.StatusOK))
	assert.False(t, RetryableStatus(http.StatusNotFound))
}

func TestNextDelay(t *testing.T) {
	c := RetryConfig{InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2.0}
	assert.Equal(t, time.Second, c.NextDelay(0))
	assert.Equal(t, 2*time.Second, c.NextDelay(1))
	assert.Equal(t, 4*time.Second, c.NextDelay(2))
	assert.Equal(t, 5*time.Second, c.NextDelay(3)) // capped
	assert.Equal(t, 5*time.Second, c.NextDelay(10))
}

func TestRetryingClientRecovers(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewRetryingClient(srv.Client(), fastRetryConfig())
	resp, err := client.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryingClientNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewRetryingClient(srv.Client(), fastRetryConfig())
	resp, err := client.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

// =============================================================================
// Probe Tests
// =============================================================================

func TestRunHTTPCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	runner := NewRunner(NewRetryingClient(srv.Client(), fastRetryConfig()), 2, nil)
	results := runner.Run(context.Background(), []Check{
		{Name: "api health", Kind: KindHTTP, URL: srv.URL, ExpectStatus: 200},
		{Name: "missing page", Kind: KindHTTP, URL: srv.URL + "/nope", ExpectStatus: 204},
	})

	require.Len(t, results, 2)
	assert.True(t, results[0].Passed)
	assert.False(t, results[1].Passed)
	assert.Contains(t, results[1].Detail, "want 204")
	assert.False(t, Passed(results))
}

func TestRunTCPCheck(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	runner := NewRunner(nil, 2, nil)
	results := runner.Run(context.Background(), []Check{
		{Name: "open port", Kind: KindTCP, Host: "127.0.0.1", Port: port, Timeout: time.Second},
	})
	require.Len(t, results, 1)
	assert.True(t, results[0].Passed)
}

func TestRunCommandCheck(t *testing.T) {
	runner := NewRunner(nil, 2, nil)
	results := runner.Run(context.Background(), []Check{
		{Name: "ok", Kind: KindCommand, Command: "echo ready"},
		{Name: "fails", Kind: KindCommand, Command: "exit 3"},
	})
	require.Len(t, results, 2)
	assert.True(t, results[0].Passed)
	assert.Equal(t, "ready", results[0].Detail)
	assert.False(t, results[1].Passed)
}

func TestRunUnknownKind(t *testing.T) {
	runner := NewRunner(nil, 1, nil)
	results := runner.Run(context.Background(), []Check{{Name: "x", Kind: "smoke"}})
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Contains(t, results[0].Detail, "unknown check kind")
}

// =============================================================================
// Derivation Tests
// =============================================================================

func TestForServices(t *testing.T) {
	services := []manifest.Service{
		{Name: "api", HealthURL: "http://localhost:8000/api/health", Port: 8000},
		{Name: "db", Port: 5432, CheckCmd: "pg_isready -h localhost -p 5432"},
		{Name: "worker"},
	}
	out := ForServices(services)

	var names []string
	for _, c := range out {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"api health", "api port", "db command", "db port"}, names)
}
