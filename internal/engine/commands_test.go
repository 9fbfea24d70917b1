package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vabhub/convoy/internal/core/manifest"
	"github.com/vabhub/convoy/internal/shell/checks"
)

func TestBusDispatch(t *testing.T) {
	bus := NewBus(&Deps{})

	var got map[string]any
	bus.Register("TestCommand", func(_ context.Context, _ *Deps, data map[string]any) error {
		got = data
		return nil
	})

	err := bus.Dispatch(context.Background(), "TestCommand", map[string]any{"key": "value"})
	require.NoError(t, err)
	assert.Equal(t, "value", got["key"])
}

func TestBusDispatchUnknownCommand(t *testing.T) {
	bus := NewBus(&Deps{})
	// unknown commands are logged, not fatal
	assert.NoError(t, bus.Dispatch(context.Background(), "NoSuchCommand", nil))
}

func TestVersionFileName(t *testing.T) {
	assert.Equal(t, "setup.py", versionFileName(manifest.Repository{Kind: manifest.KindPython}))
	assert.Equal(t, "package.json", versionFileName(manifest.Repository{Kind: manifest.KindJavascript}))
	assert.Equal(t, "custom.cfg", versionFileName(manifest.Repository{
		Kind:        manifest.KindPython,
		VersionFile: "custom.cfg",
	}))
}

func TestPlanFromRow(t *testing.T) {
	row := map[string]any{
		"plan": map[string]any{
			"target": "2.1.0",
			"order":  []any{"vabhub-core"},
			"steps": []any{
				map[string]any{"repository": "vabhub-core", "ready": true},
			},
		},
	}

	plan, err := planFromRow(row)
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 1)
	assert.True(t, plan.Steps[0].Ready)
	assert.Equal(t, "vabhub-core", plan.Steps[0].Repository)

	_, err = planFromRow(map[string]any{})
	assert.Error(t, err)

	_, err = planFromRow(map[string]any{"plan": map[string]any{}})
	assert.Error(t, err)
}

func TestToStringMap(t *testing.T) {
	assert.Equal(t, map[string]string{"A": "1"}, toStringMap(map[string]any{"A": 1}))
	assert.Equal(t, map[string]string{"B": "x"}, toStringMap(map[string]string{"B": "x"}))
	assert.Equal(t, map[string]string{"C": "y"}, toStringMap(`{"C":"y"}`))
	assert.Empty(t, toStringMap(nil))
}

func TestCheckFailures(t *testing.T) {
	msg := checkFailures([]checks.Result{
		{Name: "core-api", Passed: true},
		{Name: "frontend", Passed: false, Detail: "status 502"},
	})
	assert.Contains(t, msg, "frontend: status 502")
	assert.NotContains(t, msg, "core-api")
}
