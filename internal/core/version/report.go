package version

import (
	"fmt"
	"sort"
)

// RepoVersion is one repository's working-tree version state.
type RepoVersion struct {
	Repository string `json:"repository"`
	Version    string `json:"version,omitempty"`
	Versioned  bool   `json:"versioned"`
	Error      string `json:"error,omitempty"`
}

// Report summarizes the version state across the topology, including
// cross-repository compatibility problems against a target version.
type Report struct {
	Repos       []RepoVersion `json:"repos"`
	Target      string        `json:"target,omitempty"`
	Issues      []string      `json:"issues,omitempty"`
	Prereleases []string      `json:"prereleases,omitempty"`
}

// BuildReport assembles a Report from collected per-repo versions. When
// target is non-empty, each versioned repository is checked for major-version
// compatibility with it.
func BuildReport(versions map[string]RepoVersion, target string) Report {
	names := make([]string, 0, len(versions))
	for name := range versions {
		names = append(names, name)
	}
	sort.Strings(names)

	report := Report{Target: target}
	for _, name := range names {
		rv := versions[name]
		report.Repos = append(report.Repos, rv)
		if !rv.Versioned {
			continue
		}
		if IsPrerelease(rv.Version) {
			report.Prereleases = append(report.Prereleases, name)
		}
		if target == "" {
			continue
		}
		ok, err := Compatible(rv.Version, target)
		if err != nil {
			report.Issues = append(report.Issues, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		if !ok {
			report.Issues = append(report.Issues,
				fmt.Sprintf("%s: %s is not major-compatible with target %s", name, rv.Version, target))
		}
	}
	return report
}

// Healthy reports whether the report carries no compatibility issues.
func (r Report) Healthy() bool {
	return len(r.Issues) == 0
}
