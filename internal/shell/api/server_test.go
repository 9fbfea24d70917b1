package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vabhub/convoy/internal/engine"
)

func newTestHandler(t *testing.T) (http.Handler, *engine.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := engine.OpenDB(filepath.Join(t.TempDir(), "convoy.db"), engine.Schema(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	handler := NewHandler(Config{
		Store:   store,
		Logger:  logger,
		Version: "test",
	})
	return handler, store
}

func TestHealthEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/ready", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, "ok", body.Checks["database"])
}

func TestStatusAggregates(t *testing.T) {
	handler, store := newTestHandler(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "repositories", map[string]any{
		"name": "vabhub-core", "kind": "python", "role": "core",
		"current_version": "2.0.0",
	})
	require.NoError(t, err)
	_, err = store.Create(ctx, "deployments", map[string]any{"name": "production"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Overall      string           `json:"overall"`
		Repositories []map[string]any `json:"repositories"`
		Deployments  []map[string]any `json:"deployments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Overall)
	require.Len(t, body.Repositories, 1)
	assert.Equal(t, "2.0.0", body.Repositories[0]["version"])
	require.Len(t, body.Deployments, 1)
	assert.Equal(t, "pending", body.Deployments[0]["status"])
}

func TestResourceRoutesMounted(t *testing.T) {
	handler, _ := newTestHandler(t)

	payload, _ := json.Marshal(map[string]any{
		"data": map[string]any{"attributes": map[string]any{"scope": "configs"}},
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/backups", bytes.NewReader(payload)))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestDeploymentLogsRequiresService(t *testing.T) {
	handler, store := newTestHandler(t)

	row, err := store.Create(context.Background(), "deployments", map[string]any{"name": "production"})
	require.NoError(t, err)
	id := row["reference_id"].(string)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/deployments/"+id+"/logs", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReleaseEventsNotFound(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/releases/rel_missing/events", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
