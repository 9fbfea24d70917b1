package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Manifest Tests
// =============================================================================

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ManifestFile)
	require.NoError(t, os.WriteFile(path, []byte(`{
  "release": "2.3.0",
  "core": "2.3.0",
  "frontend": "2.1.4",
  "plugins": {
    "vabhub-plugins": "1.8.2"
  }
}`), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "2.3.0", m.Release)
	assert.Equal(t, "2.3.0", m.Core)
	assert.Equal(t, "2.1.4", m.Frontend)
	assert.Equal(t, "1.8.2", m.Plugins["vabhub-plugins"])
}

func TestLoadManifestErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "invalid json",
			content: `{not json`,
			errMsg:  "parse manifest",
		},
		{
			name:    "missing release",
			content: `{"core": "1.0.0", "frontend": "1.0.0"}`,
			errMsg:  "release version is empty",
		},
		{
			name:    "bad semver",
			content: `{"release": "1.0", "core": "1.0.0", "frontend": "1.0.0"}`,
			errMsg:  "not valid semver",
		},
		{
			name:    "bad plugin version",
			content: `{"release": "1.0.0", "core": "1.0.0", "frontend": "1.0.0", "plugins": {"p": "latest"}}`,
			errMsg:  "plugin p",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := LoadManifest(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestManifestSaveRoundTrip(t *testing.T) {
	m := &Manifest{
		Release:  "3.0.0",
		Core:     "3.0.0",
		Frontend: "2.9.1",
		Plugins:  map[string]string{"vabhub-plugins": "2.0.0", "vabhub-resources": "1.1.0"},
	}
	path := filepath.Join(t.TempDir(), ManifestFile)
	require.NoError(t, m.Save(path))

	loaded, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, m, loaded)
}

func TestManifestSetVersion(t *testing.T) {
	var m Manifest
	m.SetVersion(RoleCore, "", "1.2.3")
	m.SetVersion(RoleFrontend, "", "1.0.0")
	m.SetVersion(RolePlugin, "vabhub-plugins", "0.9.0")

	assert.Equal(t, "1.2.3", m.Version(RoleCore, ""))
	assert.Equal(t, "1.0.0", m.Version(RoleFrontend, ""))
	assert.Equal(t, "0.9.0", m.Version(RolePlugin, "vabhub-plugins"))
	assert.Empty(t, m.Version(RolePlugin, "unknown"))
}

func TestManifestPluginNames(t *testing.T) {
	m := Manifest{Plugins: map[string]string{"zeta": "1.0.0", "alpha": "1.0.0"}}
	assert.Equal(t, []string{"alpha", "zeta"}, m.PluginNames())
}

// =============================================================================
// Topology Tests
// =============================================================================

func TestLoadTopology(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
repositories:
  - name: core
    kind: python
    role: core
    git_url: https://example.com/core.git
    version_file: setup.py
  - name: frontend
    kind: javascript
    role: frontend
    git_url: https://example.com/frontend.git
    version_file: package.json
    depends_on: [core]
services:
  - name: api
    repository: core
    health_url: http://localhost:8000/api/health
    port: 8000
`), 0o644))

	topo, err := LoadTopology(path)
	require.NoError(t, err)
	require.Len(t, topo.Repositories, 2)
	assert.Equal(t, KindPython, topo.Repositories[0].Kind)
	assert.Equal(t, []string{"core"}, topo.Repositories[1].DependsOn)
	require.Len(t, topo.Services, 1)
	assert.Equal(t, 8000, topo.Services[0].Port)
}

func TestTopologyValidate(t *testing.T) {
	tests := []struct {
		name   string
		topo   Topology
		errMsg string
	}{
		{
			name:   "empty",
			topo:   Topology{},
			errMsg: "no repositories",
		},
		{
			name: "duplicate name",
			topo: Topology{Repositories: []Repository{
				{Name: "a", Kind: KindPython},
				{Name: "a", Kind: KindPython},
			}},
			errMsg: "duplicate repository",
		},
		{
			name: "unknown kind",
			topo: Topology{Repositories: []Repository{
				{Name: "a", Kind: "rust"},
			}},
			errMsg: "unknown kind",
		},
		{
			name: "unknown dependency",
			topo: Topology{Repositories: []Repository{
				{Name: "a", Kind: KindPython, DependsOn: []string{"ghost"}},
			}},
			errMsg: "unknown repository",
		},
		{
			name: "self dependency",
			topo: Topology{Repositories: []Repository{
				{Name: "a", Kind: KindPython, DependsOn: []string{"a"}},
			}},
			errMsg: "depends on itself",
		},
		{
			name: "service references unknown repo",
			topo: Topology{
				Repositories: []Repository{{Name: "a", Kind: KindPython}},
				Services:     []Service{{Name: "api", Repository: "ghost"}},
			},
			errMsg: "unknown repository",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.topo.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestDefaultTopologyIsValid(t *testing.T) {
	topo := DefaultTopology()
	require.NoError(t, topo.Validate())

	repo, ok := topo.Repository("vabhub-core")
	require.True(t, ok)
	assert.Equal(t, RoleCore, repo.Role)
}
