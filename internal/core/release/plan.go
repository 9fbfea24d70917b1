// Package release contains the pure planning logic for coordinated
// multi-repository releases: plan construction, validation, risk assessment,
// rollback planning, and changelog assembly. Execution lives in the engine's
// command handlers; everything here is side-effect free.
package release

import (
	"fmt"
	"time"

	"github.com/vabhub/convoy/internal/core/manifest"
	"github.com/vabhub/convoy/internal/core/version"
)

// Step is one repository's part of a release plan.
type Step struct {
	Repository string `json:"repository"`
	Current    string `json:"current,omitempty"`
	Target     string `json:"target"`
	Ready      bool   `json:"ready"`
	Reason     string `json:"reason,omitempty"`
}

// Plan is a coordinated release plan: every repository in the topology moves
// to the target version, in dependency order.
type Plan struct {
	Target    string    `json:"target"`
	Order     []string  `json:"order"`
	Steps     []Step    `json:"steps"`
	Risk      string    `json:"risk"`
	Estimate  int       `json:"estimate_minutes"`
	CreatedAt time.Time `json:"created_at"`
}

// NewPlan builds a release plan for the topology. currentVersions maps
// repository name to its working-tree version; repositories missing from the
// map are planned but marked not ready.
func NewPlan(topo *manifest.Topology, currentVersions map[string]string, target string) (*Plan, error) {
	if err := version.Validate(target); err != nil {
		return nil, err
	}
	order, err := manifest.ReleaseOrder(topo)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Target:    target,
		Order:     order,
		CreatedAt: time.Now().UTC(),
	}
	for _, name := range order {
		step := Step{Repository: name, Target: target}
		current, ok := currentVersions[name]
		switch {
		case !ok || current == "":
			step.Reason = "current version unknown"
		case current == target:
			step.Reason = fmt.Sprintf("already at %s", target)
		default:
			step.Current = current
			ok, err := version.Compatible(current, target)
			if err != nil {
				step.Reason = err.Error()
			} else if !ok {
				step.Current = current
				step.Reason = fmt.Sprintf("major version change %s -> %s", current, target)
			} else {
				step.Ready = true
			}
		}
		plan.Steps = append(plan.Steps, step)
	}
	plan.Risk = AssessRisk(plan)
	plan.Estimate = EstimateMinutes(plan)
	return plan, nil
}

// Ready reports whether every step of the plan can proceed.
func (p *Plan) Ready() bool {
	for _, s := range p.Steps {
		if !s.Ready {
			return false
		}
	}
	return true
}

// Blockers returns the reasons preventing execution, one per blocked step.
func (p *Plan) Blockers() []string {
	var out []string
	for _, s := range p.Steps {
		if !s.Ready {
			out = append(out, fmt.Sprintf("%s: %s", s.Repository, s.Reason))
		}
	}
	return out
}
