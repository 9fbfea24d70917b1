package release

import (
	"fmt"
	"time"

	"github.com/vabhub/convoy/internal/core/manifest"
	"github.com/vabhub/convoy/internal/core/version"
)

// =============================================================================
// Rollback Planning
// =============================================================================

// Rollback action kinds, executed per repository in order.
const (
	ActionStopStack   = "stop_stack"
	ActionCheckoutTag = "checkout_tag"
	ActionBuildImages = "build_images"
	ActionStartStack  = "start_stack"
)

// Action is one executable step of a per-repository rollback.
type Action struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// RepoRollback lists the actions to roll one repository back.
type RepoRollback struct {
	Repository string   `json:"repository"`
	Actions    []Action `json:"actions"`
}

// Verification check kinds run after a rollback completes.
const (
	CheckContainers = "containers_running"
	CheckGitTag     = "git_tag"
	CheckHTTPHealth = "http_health"
)

// Verification is one post-rollback check.
type Verification struct {
	Kind       string `json:"kind"`
	Repository string `json:"repository,omitempty"`
	Target     string `json:"target,omitempty"`
	Expect     string `json:"expect,omitempty"`
}

// RollbackPlan rolls the whole installation from one release version back to
// another. Repositories are processed in reverse dependency order so that
// dependents come down before the repositories they depend on.
type RollbackPlan struct {
	From      string         `json:"from"`
	To        string         `json:"to"`
	Order     []string       `json:"order"`
	Repos     []RepoRollback `json:"repos"`
	Checks    []Verification `json:"checks"`
	Risk      string         `json:"risk"`
	Estimate  int            `json:"estimate_minutes"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewRollbackPlan builds a rollback plan from release version `from` back to
// `to`. The target must be an older version than the current one.
func NewRollbackPlan(topo *manifest.Topology, from, to string) (*RollbackPlan, error) {
	if err := version.Validate(from); err != nil {
		return nil, err
	}
	if err := version.Validate(to); err != nil {
		return nil, err
	}
	cmp, err := version.Compare(to, from)
	if err != nil {
		return nil, err
	}
	if cmp >= 0 {
		return nil, fmt.Errorf("rollback target %s is not older than current %s", to, from)
	}
	order, err := manifest.RollbackOrder(topo)
	if err != nil {
		return nil, err
	}

	plan := &RollbackPlan{
		From:      from,
		To:        to,
		Order:     order,
		CreatedAt: time.Now().UTC(),
	}
	tag := "v" + to
	for _, name := range order {
		repo, _ := topo.Repository(name)
		rr := RepoRollback{Repository: name}
		if repo.Role == manifest.RoleDeploy {
			rr.Actions = append(rr.Actions, Action{Kind: ActionStopStack})
		}
		rr.Actions = append(rr.Actions, Action{Kind: ActionCheckoutTag, Detail: tag})
		if repo.Kind == manifest.KindPython || repo.Kind == manifest.KindJavascript {
			rr.Actions = append(rr.Actions, Action{Kind: ActionBuildImages})
		}
		if repo.Role == manifest.RoleDeploy {
			rr.Actions = append(rr.Actions, Action{Kind: ActionStartStack})
		}
		plan.Repos = append(plan.Repos, rr)

		plan.Checks = append(plan.Checks, Verification{
			Kind:       CheckGitTag,
			Repository: name,
			Expect:     tag,
		})
	}
	plan.Checks = append(plan.Checks, Verification{Kind: CheckContainers})
	for _, svc := range topo.Services {
		if svc.HealthURL != "" {
			plan.Checks = append(plan.Checks, Verification{
				Kind:   CheckHTTPHealth,
				Target: svc.HealthURL,
				Expect: "200",
			})
		}
	}

	delta, err := version.MajorDelta(from, to)
	if err != nil {
		return nil, err
	}
	switch {
	case delta >= 1:
		plan.Risk = "high"
	case len(order) > 3:
		plan.Risk = "medium"
	default:
		plan.Risk = "low"
	}
	plan.Estimate = 10 + 3*len(order)
	return plan, nil
}
