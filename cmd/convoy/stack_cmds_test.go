package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vabhub/convoy/internal/engine"
)

// newTestApp wires an app against a temp store. The StopDeployment handler
// is a stand-in that advances the row the same way the real one does, minus
// the docker calls.
func newTestApp(t *testing.T) *app {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := engine.OpenDB(filepath.Join(t.TempDir(), "convoy.db"), engine.Schema(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	deps := &engine.Deps{Store: store, Logger: logger}
	bus := engine.NewBus(deps)
	bus.Register("StopDeployment", func(ctx context.Context, deps *engine.Deps, data map[string]any) error {
		refID, _ := data["reference_id"].(string)
		deps.Store.Update(ctx, "deployments", refID, map[string]any{
			"stopped_at": time.Now().UTC().Format(time.RFC3339),
		})
		_, _, err := deps.Store.Transition(ctx, "deployments", refID, "stopped")
		return err
	})

	return &app{logger: logger, store: store, deps: deps, bus: bus}
}

func runningDeployment(t *testing.T, a *app, name string) string {
	t.Helper()
	ctx := context.Background()
	row, err := a.store.Create(ctx, "deployments", map[string]any{
		"name":         name,
		"compose_spec": "services:\n  api:\n    image: img\n",
	})
	require.NoError(t, err)
	refID := str(row, "reference_id")
	_, _, err = a.store.Transition(ctx, "deployments", refID, "starting")
	require.NoError(t, err)
	_, _, err = a.store.Transition(ctx, "deployments", refID, "running")
	require.NoError(t, err)
	return refID
}

func TestStopStack(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	refID := runningDeployment(t, a, "production")

	// the handler already lands the row in stopped; stop must not try to
	// advance it a second time
	require.NoError(t, stopStack(ctx, a, "production"))

	row, err := a.store.Get(ctx, "deployments", refID)
	require.NoError(t, err)
	assert.Equal(t, "stopped", str(row, "status"))
	assert.NotEmpty(t, row["stopped_at"])
}

func TestStopStackAlreadyStopped(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	runningDeployment(t, a, "production")

	require.NoError(t, stopStack(ctx, a, "production"))
	// a second stop is a no-op, not an invalid transition
	require.NoError(t, stopStack(ctx, a, "production"))
}
