package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func diamondTopology() *Topology {
	return &Topology{
		Repositories: []Repository{
			{Name: "deploy", Kind: KindDeploy, DependsOn: []string{"core", "frontend", "plugins"}},
			{Name: "frontend", Kind: KindJavascript, DependsOn: []string{"core"}},
			{Name: "plugins", Kind: KindPython, DependsOn: []string{"core"}},
			{Name: "core", Kind: KindPython},
		},
	}
}

func TestReleaseOrder(t *testing.T) {
	order, err := ReleaseOrder(diamondTopology())
	require.NoError(t, err)
	assert.Equal(t, []string{"core", "frontend", "plugins", "deploy"}, order)
}

func TestReleaseOrderDeterministic(t *testing.T) {
	topo := diamondTopology()
	first, err := ReleaseOrder(topo)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := ReleaseOrder(topo)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestReleaseOrderCycle(t *testing.T) {
	topo := &Topology{
		Repositories: []Repository{
			{Name: "a", Kind: KindPython, DependsOn: []string{"b"}},
			{Name: "b", Kind: KindPython, DependsOn: []string{"a"}},
		},
	}
	_, err := ReleaseOrder(topo)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependency cycle")
	assert.Contains(t, err.Error(), "a, b")
}

func TestRollbackOrder(t *testing.T) {
	order, err := RollbackOrder(diamondTopology())
	require.NoError(t, err)
	assert.Equal(t, []string{"deploy", "plugins", "frontend", "core"}, order)
}

func TestDependents(t *testing.T) {
	topo := diamondTopology()
	assert.Equal(t, []string{"deploy", "frontend", "plugins"}, Dependents(topo, "core"))
	assert.Equal(t, []string{"deploy"}, Dependents(topo, "frontend"))
	assert.Empty(t, Dependents(topo, "deploy"))
}

func TestMermaidDiagram(t *testing.T) {
	topo := &Topology{
		Repositories: []Repository{
			{Name: "vabhub-core", Kind: KindPython},
			{Name: "vabhub-frontend", Kind: KindJavascript, DependsOn: []string{"vabhub-core"}},
		},
	}
	diagram := MermaidDiagram(topo)
	assert.Contains(t, diagram, "graph TD")
	assert.Contains(t, diagram, "vabhub_core[vabhub-core]")
	assert.Contains(t, diagram, "vabhub_core --> vabhub_frontend")
}
