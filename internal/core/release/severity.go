package release

// =============================================================================
// Issue Severity and Rollback Recommendation
// =============================================================================

// Problem types observed by deployment monitoring.
const (
	ProblemHealthCheckFailed = "health_check_failed"
	ProblemContainerDown     = "container_down"
	ProblemVersionMismatch   = "version_mismatch"
	ProblemBuildFailed       = "build_failed"
	ProblemHighErrorRate     = "high_error_rate"
)

// Severity levels, ordered.
const (
	SeverityNone     = "none"
	SeverityLow      = "low"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Recommendations derived from severity.
const (
	RecommendContinue          = "continue"
	RecommendMonitor           = "monitor"
	RecommendRollback          = "recommended_rollback"
	RecommendImmediateRollback = "immediate_rollback"
)

// Problem is a single issue detected against a running release.
type Problem struct {
	Type        string `json:"type"`
	Repository  string `json:"repository,omitempty"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

var severityRank = map[string]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// DefaultSeverity assigns a severity to a problem type: container and health
// failures are critical, build failures high, everything else low.
func DefaultSeverity(problemType string) string {
	switch problemType {
	case ProblemContainerDown, ProblemHealthCheckFailed:
		return SeverityCritical
	case ProblemBuildFailed:
		return SeverityHigh
	default:
		return SeverityLow
	}
}

// OverallSeverity is the maximum severity across all problems, or
// SeverityNone when the list is empty.
func OverallSeverity(problems []Problem) string {
	overall := SeverityNone
	for _, p := range problems {
		if severityRank[p.Severity] > severityRank[overall] {
			overall = p.Severity
		}
	}
	return overall
}

// Recommendation maps an overall severity to the action the operator (or the
// automated monitor) should take.
func Recommendation(severity string) string {
	switch severity {
	case SeverityCritical:
		return RecommendImmediateRollback
	case SeverityHigh:
		return RecommendRollback
	case SeverityLow:
		return RecommendMonitor
	default:
		return RecommendContinue
	}
}
