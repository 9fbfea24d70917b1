package release

import (
	"github.com/vabhub/convoy/internal/core/version"
)

// AssessRisk classifies a release plan as low, medium, or high risk. Any
// major-version jump is high; releasing more than three repositories at once
// is medium; everything else is low.
func AssessRisk(p *Plan) string {
	changing := 0
	for _, s := range p.Steps {
		if s.Current == "" {
			continue
		}
		delta, err := version.MajorDelta(s.Current, p.Target)
		if err == nil && delta >= 1 {
			return "high"
		}
		if s.Current != p.Target {
			changing++
		}
	}
	if changing > 3 {
		return "medium"
	}
	return "low"
}

// EstimateMinutes is a rough wall-clock estimate for executing the plan:
// a fixed coordination overhead plus per-repository tag/build time.
func EstimateMinutes(p *Plan) int {
	return 10 + 3*len(p.Steps)
}
