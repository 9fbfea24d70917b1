package release

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// Changelog Assembly
// =============================================================================

// Changelog groups commit subjects per repository for a release.
type Changelog struct {
	Target  string              `json:"target"`
	Since   string              `json:"since,omitempty"`
	Date    time.Time           `json:"date"`
	Commits map[string][]string `json:"commits"`
}

// Render produces the markdown release notes. Commit subjects using
// conventional prefixes are grouped into Features and Fixes; the rest land
// under Changes.
func (c *Changelog) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Release v%s\n\n", c.Target)
	fmt.Fprintf(&b, "Date: %s\n", c.Date.Format("2006-01-02"))
	if c.Since != "" {
		fmt.Fprintf(&b, "Changes since v%s.\n", c.Since)
	}

	repos := make([]string, 0, len(c.Commits))
	for repo := range c.Commits {
		repos = append(repos, repo)
	}
	sort.Strings(repos)

	for _, repo := range repos {
		subjects := c.Commits[repo]
		if len(subjects) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n", repo)

		var features, fixes, other []string
		for _, s := range subjects {
			switch {
			case strings.HasPrefix(s, "feat:"), strings.HasPrefix(s, "feat("):
				features = append(features, stripConventionalPrefix(s))
			case strings.HasPrefix(s, "fix:"), strings.HasPrefix(s, "fix("):
				fixes = append(fixes, stripConventionalPrefix(s))
			default:
				other = append(other, s)
			}
		}
		section := func(title string, items []string) {
			if len(items) == 0 {
				return
			}
			fmt.Fprintf(&b, "\n### %s\n\n", title)
			for _, item := range items {
				fmt.Fprintf(&b, "- %s\n", item)
			}
		}
		section("Features", features)
		section("Fixes", fixes)
		section("Changes", other)
	}
	return b.String()
}

// stripConventionalPrefix drops the type and optional scope from a
// conventional commit subject, covering both "feat: x" and "feat(api): x".
func stripConventionalPrefix(s string) string {
	if _, rest, found := strings.Cut(s, ":"); found {
		return strings.TrimSpace(rest)
	}
	return s
}
