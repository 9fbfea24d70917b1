// Package manifest defines the fixed repository topology of a VabHub
// installation and the versions.json compatibility manifest that records
// which versions of each repository make up a release.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// ManifestFile is the conventional name of the compatibility manifest.
const ManifestFile = "versions.json"

// Manifest is the versions.json compatibility manifest. It pins the overall
// release version together with the versions of the core backend, the
// frontend, and every plugin that shipped with the release.
type Manifest struct {
	Release  string            `json:"release"`
	Core     string            `json:"core"`
	Frontend string            `json:"frontend"`
	Plugins  map[string]string `json:"plugins"`
}

// LoadManifest reads and validates a versions.json file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Save writes the manifest to path with stable formatting.
func (m *Manifest) Save(path string) error {
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Validate checks that every pinned version is valid semver and that the
// required top-level fields are present.
func (m *Manifest) Validate() error {
	check := func(field, value string) error {
		if value == "" {
			return fmt.Errorf("manifest: %s version is empty", field)
		}
		if _, err := semver.StrictNewVersion(value); err != nil {
			return fmt.Errorf("manifest: %s version %q is not valid semver: %w", field, value, err)
		}
		return nil
	}
	if err := check("release", m.Release); err != nil {
		return err
	}
	if err := check("core", m.Core); err != nil {
		return err
	}
	if err := check("frontend", m.Frontend); err != nil {
		return err
	}
	for name, v := range m.Plugins {
		if err := check("plugin "+name, v); err != nil {
			return err
		}
	}
	return nil
}

// Version returns the pinned version for a repository role, or "" when the
// manifest does not pin it.
func (m *Manifest) Version(role Role, plugin string) string {
	switch role {
	case RoleCore:
		return m.Core
	case RoleFrontend:
		return m.Frontend
	case RolePlugin:
		return m.Plugins[plugin]
	}
	return ""
}

// SetVersion pins a repository role to a version. Plugin pins allocate the
// plugins map on first use.
func (m *Manifest) SetVersion(role Role, plugin, version string) {
	switch role {
	case RoleCore:
		m.Core = version
	case RoleFrontend:
		m.Frontend = version
	case RolePlugin:
		if m.Plugins == nil {
			m.Plugins = make(map[string]string)
		}
		m.Plugins[plugin] = version
	}
}

// PluginNames returns the pinned plugin names in sorted order.
func (m *Manifest) PluginNames() []string {
	names := make([]string, 0, len(m.Plugins))
	for name := range m.Plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
