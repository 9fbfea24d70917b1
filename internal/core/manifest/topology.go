package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Repository Topology
// =============================================================================

// Kind classifies how a repository is versioned and built.
type Kind string

const (
	KindPython     Kind = "python"     // version in setup.py
	KindJavascript Kind = "javascript" // version in package.json
	KindResources  Kind = "resources"  // version in a VERSION file
	KindDeploy     Kind = "deploy"     // compose files, version in a VERSION file
)

// Role maps a repository onto its slot in the versions.json manifest.
type Role string

const (
	RoleCore     Role = "core"
	RoleFrontend Role = "frontend"
	RolePlugin   Role = "plugin"
	RoleDeploy   Role = "deploy" // not pinned in the manifest; carries it instead
)

// Repository describes one repository in the fixed topology.
type Repository struct {
	Name        string   `yaml:"name"`
	Kind        Kind     `yaml:"kind"`
	Role        Role     `yaml:"role"`
	GitURL      string   `yaml:"git_url"`
	Path        string   `yaml:"path,omitempty"`
	VersionFile string   `yaml:"version_file,omitempty"`
	DependsOn   []string `yaml:"depends_on,omitempty"`
}

// Service describes a deployable service exposed by the stack, used for
// post-deployment validation.
type Service struct {
	Name       string `yaml:"name"`
	Repository string `yaml:"repository,omitempty"`
	HealthURL  string `yaml:"health_url,omitempty"`
	Port       int    `yaml:"port,omitempty"`
	CheckCmd   string `yaml:"check_cmd,omitempty"`
}

// Topology is the fixed set of repositories and services the orchestrator
// operates on. It is loaded once from a YAML file and treated as immutable.
type Topology struct {
	Repositories []Repository `yaml:"repositories"`
	Services     []Service    `yaml:"services"`
}

// LoadTopology reads and validates a topology YAML file.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse topology: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// DefaultTopology returns the standard VabHub five-repository layout used
// when no topology file is configured.
func DefaultTopology() *Topology {
	return &Topology{
		Repositories: []Repository{
			{
				Name:        "vabhub-core",
				Kind:        KindPython,
				Role:        RoleCore,
				GitURL:      "https://github.com/vabhub/vabhub-core.git",
				VersionFile: "setup.py",
			},
			{
				Name:        "vabhub-frontend",
				Kind:        KindJavascript,
				Role:        RoleFrontend,
				GitURL:      "https://github.com/vabhub/vabhub-frontend.git",
				VersionFile: "package.json",
				DependsOn:   []string{"vabhub-core"},
			},
			{
				Name:        "vabhub-plugins",
				Kind:        KindPython,
				Role:        RolePlugin,
				GitURL:      "https://github.com/vabhub/vabhub-plugins.git",
				VersionFile: "setup.py",
				DependsOn:   []string{"vabhub-core"},
			},
			{
				Name:        "vabhub-resources",
				Kind:        KindResources,
				Role:        RolePlugin,
				GitURL:      "https://github.com/vabhub/vabhub-resources.git",
				VersionFile: "VERSION",
			},
			{
				Name:        "vabhub-deploy",
				Kind:        KindDeploy,
				Role:        RoleDeploy,
				GitURL:      "https://github.com/vabhub/vabhub-deploy.git",
				VersionFile: "VERSION",
				DependsOn:   []string{"vabhub-core", "vabhub-frontend", "vabhub-plugins", "vabhub-resources"},
			},
		},
		Services: []Service{
			{Name: "api", Repository: "vabhub-core", HealthURL: "http://localhost:8000/api/health", Port: 8000},
			{Name: "frontend", Repository: "vabhub-frontend", HealthURL: "http://localhost:3000", Port: 3000},
			{Name: "db", Port: 5432, CheckCmd: "pg_isready -h localhost -p 5432"},
			{Name: "redis", Port: 6379, CheckCmd: "redis-cli -h localhost -p 6379 ping"},
		},
	}
}

// Validate checks structural integrity: unique names, known kinds, and
// dependency references that resolve within the topology.
func (t *Topology) Validate() error {
	if len(t.Repositories) == 0 {
		return fmt.Errorf("topology: no repositories defined")
	}
	seen := make(map[string]bool, len(t.Repositories))
	for _, repo := range t.Repositories {
		if repo.Name == "" {
			return fmt.Errorf("topology: repository with empty name")
		}
		if seen[repo.Name] {
			return fmt.Errorf("topology: duplicate repository %q", repo.Name)
		}
		seen[repo.Name] = true
		switch repo.Kind {
		case KindPython, KindJavascript, KindResources, KindDeploy:
		default:
			return fmt.Errorf("topology: repository %q has unknown kind %q", repo.Name, repo.Kind)
		}
	}
	for _, repo := range t.Repositories {
		for _, dep := range repo.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("topology: repository %q depends on unknown repository %q", repo.Name, dep)
			}
			if dep == repo.Name {
				return fmt.Errorf("topology: repository %q depends on itself", repo.Name)
			}
		}
	}
	for _, svc := range t.Services {
		if svc.Name == "" {
			return fmt.Errorf("topology: service with empty name")
		}
		if svc.Repository != "" && !seen[svc.Repository] {
			return fmt.Errorf("topology: service %q references unknown repository %q", svc.Name, svc.Repository)
		}
	}
	return nil
}

// Repository looks up a repository by name.
func (t *Topology) Repository(name string) (Repository, bool) {
	for _, repo := range t.Repositories {
		if repo.Name == name {
			return repo, true
		}
	}
	return Repository{}, false
}

// RepoPath returns the working-tree directory for a repository under the
// given workspace root.
func (t *Topology) RepoPath(workspace string, repo Repository) string {
	p := repo.Path
	if p == "" {
		p = repo.Name
	}
	return workspace + string(os.PathSeparator) + p
}
