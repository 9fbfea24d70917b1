// Package health scores repository and release health from build, test, and
// deploy outcomes, and drives the adaptive polling interval of the release
// monitor.
package health

import (
	"fmt"
	"sort"
	"time"
)

// Component outcome values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusPending = "pending"
	StatusUnknown = "unknown"
)

// Overall health classifications.
const (
	Healthy   = "healthy"
	Degraded  = "degraded"
	Unhealthy = "unhealthy"
)

// RepoStatus holds the last known pipeline outcomes for one repository.
type RepoStatus struct {
	Repository string `json:"repository"`
	Build      string `json:"build"`
	Test       string `json:"test"`
	Deploy     string `json:"deploy"`
}

// Component weights. Build failures hurt the most.
const (
	weightBuild  = 40
	weightTest   = 30
	weightDeploy = 30
)

func componentScore(status string, weight int) int {
	switch status {
	case StatusSuccess:
		return weight
	case StatusFailed:
		return 0
	default: // pending or unknown earns half credit
		return weight / 2
	}
}

// Score computes a 0-100 health score for one repository.
func Score(s RepoStatus) int {
	return componentScore(s.Build, weightBuild) +
		componentScore(s.Test, weightTest) +
		componentScore(s.Deploy, weightDeploy)
}

// Classify maps a score to a health classification.
func Classify(score int) string {
	switch {
	case score >= 80:
		return Healthy
	case score >= 50:
		return Degraded
	default:
		return Unhealthy
	}
}

// Overall aggregates repository statuses into a single classification: the
// installation is only as healthy as its worst repository.
func Overall(statuses map[string]RepoStatus) string {
	if len(statuses) == 0 {
		return Unhealthy
	}
	worst := Healthy
	for _, s := range statuses {
		c := Classify(Score(s))
		if rank(c) > rank(worst) {
			worst = c
		}
	}
	return worst
}

func rank(classification string) int {
	switch classification {
	case Unhealthy:
		return 2
	case Degraded:
		return 1
	default:
		return 0
	}
}

// Issues lists the concrete component failures for a repository.
func Issues(s RepoStatus) []string {
	var out []string
	for _, c := range []struct{ name, status string }{
		{"build", s.Build},
		{"test", s.Test},
		{"deploy", s.Deploy},
	} {
		if c.status == StatusFailed {
			out = append(out, fmt.Sprintf("%s: %s failed", s.Repository, c.name))
		}
	}
	return out
}

// MonitorInterval returns how often the release monitor should poll given the
// current overall classification. Trouble means more frequent checks.
func MonitorInterval(overall string) time.Duration {
	switch overall {
	case Unhealthy:
		return 30 * time.Second
	case Degraded:
		return 60 * time.Second
	default:
		return 120 * time.Second
	}
}

// Summary is the final monitoring report for a release window.
type Summary struct {
	Overall         string         `json:"overall"`
	Scores          map[string]int `json:"scores"`
	Issues          []string       `json:"issues,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
}

// Summarize builds the end-of-window report from repository statuses.
func Summarize(statuses map[string]RepoStatus) Summary {
	sum := Summary{
		Overall: Overall(statuses),
		Scores:  make(map[string]int, len(statuses)),
	}
	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := statuses[name]
		score := Score(s)
		sum.Scores[name] = score
		sum.Issues = append(sum.Issues, Issues(s)...)
		switch Classify(score) {
		case Unhealthy:
			sum.Recommendations = append(sum.Recommendations,
				fmt.Sprintf("investigate %s before continuing the rollout", name))
		case Degraded:
			sum.Recommendations = append(sum.Recommendations,
				fmt.Sprintf("watch %s for further degradation", name))
		}
	}
	return sum
}
