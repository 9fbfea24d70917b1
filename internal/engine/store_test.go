package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := OpenDB(filepath.Join(t.TempDir(), "convoy.db"), Schema(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAssignsReferenceID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	row, err := store.Create(ctx, "repositories", map[string]any{
		"name": "vabhub-core",
		"kind": "python",
		"role": "core",
	})
	require.NoError(t, err)

	refID := row["reference_id"].(string)
	assert.True(t, len(refID) > len("repo_"))
	assert.Equal(t, "repo_", refID[:5])
	assert.NotEmpty(t, row["created_at"])
}

func TestCreateAppliesDefaultsAndInitialState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	row, err := store.Create(ctx, "deployments", map[string]any{
		"name": "production",
	})
	require.NoError(t, err)

	assert.Equal(t, "pending", row["status"])
	assert.Equal(t, "production", row["environment"])
	// deployments use a bare UUID reference
	assert.Len(t, row["reference_id"].(string), 36)
}

func TestCreateValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "deployments", map[string]any{})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = store.Create(ctx, "releases", map[string]any{"version": "not-semver"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = store.Create(ctx, "backups", map[string]any{"scope": "everything"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "releases", "rel_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListWithFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, d := range []map[string]any{
		{"name": "production", "environment": "production"},
		{"name": "staging", "environment": "staging"},
		{"name": "preview", "environment": "staging"},
	} {
		_, err := store.Create(ctx, "deployments", d)
		require.NoError(t, err)
	}

	rows, err := store.List(ctx, "deployments",
		[]Filter{{Field: "environment", Value: "staging"}}, DefaultPage())
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = store.List(ctx, "deployments", nil, Page{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	row, err := store.Create(ctx, "deployments", map[string]any{"name": "production"})
	require.NoError(t, err)
	refID := row["reference_id"].(string)

	updated, err := store.Update(ctx, "deployments", refID, map[string]any{
		"error_message": "boom",
	})
	require.NoError(t, err)
	assert.Equal(t, "boom", updated["error_message"])

	_, err = store.Update(ctx, "deployments", "no-such-id", map[string]any{"error_message": "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	row, err := store.Create(ctx, "backups", map[string]any{"scope": "configs"})
	require.NoError(t, err)
	refID := row["reference_id"].(string)

	require.NoError(t, store.Delete(ctx, "backups", refID))
	_, err = store.Get(ctx, "backups", refID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJSONFieldsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	row, err := store.Create(ctx, "deployments", map[string]any{
		"name":      "production",
		"variables": map[string]any{"DATABASE_URL": "postgres://db/vabhub"},
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, "deployments", row["reference_id"].(string))
	require.NoError(t, err)

	vars, ok := got["variables"].(map[string]any)
	require.True(t, ok, "variables should decode to a map, got %T", got["variables"])
	assert.Equal(t, "postgres://db/vabhub", vars["DATABASE_URL"])
}

func TestReleaseTransitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	row, err := store.Create(ctx, "releases", map[string]any{"version": "2.1.0"})
	require.NoError(t, err)
	refID := row["reference_id"].(string)
	assert.Equal(t, "draft", row["status"])

	// draft can only go to validating
	_, _, err = store.Transition(ctx, "releases", refID, "releasing")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	updated, cmd, err := store.Transition(ctx, "releases", refID, "validating")
	require.NoError(t, err)
	assert.Equal(t, "ValidateRelease", cmd)
	assert.Equal(t, "validating", updated["status"])

	_, _, err = store.Transition(ctx, "releases", refID, "ready")
	require.NoError(t, err)

	// releasing requires a plan
	_, _, err = store.Transition(ctx, "releases", refID, "releasing")
	assert.ErrorIs(t, err, ErrGuardFailed)

	_, err = store.Update(ctx, "releases", refID, map[string]any{
		"plan": map[string]any{"target": "2.1.0"},
	})
	require.NoError(t, err)

	_, cmd, err = store.Transition(ctx, "releases", refID, "releasing")
	require.NoError(t, err)
	assert.Equal(t, "ExecuteRelease", cmd)
}

func TestDeploymentTransitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	row, err := store.Create(ctx, "deployments", map[string]any{"name": "production"})
	require.NoError(t, err)
	refID := row["reference_id"].(string)

	// starting requires a compose spec
	_, _, err = store.Transition(ctx, "deployments", refID, "starting")
	assert.ErrorIs(t, err, ErrGuardFailed)

	_, err = store.Update(ctx, "deployments", refID, map[string]any{
		"compose_spec": "services:\n  api:\n    image: x\n",
	})
	require.NoError(t, err)

	_, cmd, err := store.Transition(ctx, "deployments", refID, "starting")
	require.NoError(t, err)
	assert.Equal(t, "StartDeployment", cmd)

	_, cmd, err = store.Transition(ctx, "deployments", refID, "running")
	require.NoError(t, err)
	assert.Equal(t, "DeploymentRunning", cmd)

	_, _, err = store.Transition(ctx, "deployments", refID, "deleting")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, _, err = store.Transition(ctx, "deployments", refID, "stopping")
	require.NoError(t, err)
	_, _, err = store.Transition(ctx, "deployments", refID, "stopped")
	require.NoError(t, err)
	_, _, err = store.Transition(ctx, "deployments", refID, "deleting")
	require.NoError(t, err)
}

func TestGetByField(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "repositories", map[string]any{
		"name": "vabhub-frontend",
		"kind": "javascript",
		"role": "frontend",
	})
	require.NoError(t, err)

	row, err := store.GetByField(ctx, "repositories", "name", "vabhub-frontend")
	require.NoError(t, err)
	assert.Equal(t, "javascript", row["kind"])

	_, err = store.GetByField(ctx, "repositories", "name", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReleaseEventsMigration(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	recordEvent(ctx, store, "2.1.0", "production", "release_started", "3 repositories")

	rows, err := store.RawQuery(ctx,
		"SELECT type, message FROM release_events WHERE release_version = ?", "2.1.0")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "release_started", strVal(rows[0]["type"]))
}
