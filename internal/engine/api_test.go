package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*chi.Mux, *Store) {
	t.Helper()
	store := newTestStore(t)
	router := chi.NewRouter()
	RegisterRoutes(router, APIConfig{
		Store:  store,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return router, store
}

func jsonAPIBody(t *testing.T, attrs map[string]any) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"data": map[string]any{"attributes": attrs},
	})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data
}

func TestAPICreateAndGet(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest("POST", "/api/v1/deployments",
		jsonAPIBody(t, map[string]any{"name": "production"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	data := decodeData(t, rec)
	assert.Equal(t, "deployments", data["type"])
	id := data["id"].(string)
	require.NotEmpty(t, id)

	attrs := data["attributes"].(map[string]any)
	assert.Equal(t, "pending", attrs["status"])
	// internal PK never leaks
	assert.NotContains(t, attrs, "id")

	req = httptest.NewRequest("GET", "/api/v1/deployments/"+id, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decodeData(t, rec)["id"])
}

func TestAPICreateValidationError(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest("POST", "/api/v1/releases",
		jsonAPIBody(t, map[string]any{"version": "not-a-version"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIListWithFilter(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, name := range []string{"production", "staging"} {
		req := httptest.NewRequest("POST", "/api/v1/deployments",
			jsonAPIBody(t, map[string]any{"name": name, "environment": name}))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	req := httptest.NewRequest("GET", "/api/v1/deployments?filter[environment]=staging", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 1)
}

func TestAPIGetNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest("GET", "/api/v1/releases/rel_missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPITransitionGuardConflict(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest("POST", "/api/v1/deployments",
		jsonAPIBody(t, map[string]any{"name": "production"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeData(t, rec)["id"].(string)

	// starting without a compose spec trips the guard
	url := fmt.Sprintf("/api/v1/deployments/%s/transition/starting", id)
	req = httptest.NewRequest("POST", url, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// and an undefined edge is a conflict too
	url = fmt.Sprintf("/api/v1/deployments/%s/transition/deleted", id)
	req = httptest.NewRequest("POST", url, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPIDelete(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest("POST", "/api/v1/backups",
		jsonAPIBody(t, map[string]any{"scope": "configs"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeData(t, rec)["id"].(string)

	req = httptest.NewRequest("DELETE", "/api/v1/backups/"+id, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
