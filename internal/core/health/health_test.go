package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name   string
		status RepoStatus
		want   int
	}{
		{
			name:   "all success",
			status: RepoStatus{Build: StatusSuccess, Test: StatusSuccess, Deploy: StatusSuccess},
			want:   100,
		},
		{
			name:   "all failed",
			status: RepoStatus{Build: StatusFailed, Test: StatusFailed, Deploy: StatusFailed},
			want:   0,
		},
		{
			name:   "build failed",
			status: RepoStatus{Build: StatusFailed, Test: StatusSuccess, Deploy: StatusSuccess},
			want:   60,
		},
		{
			name:   "pending earns half credit",
			status: RepoStatus{Build: StatusSuccess, Test: StatusPending, Deploy: StatusUnknown},
			want:   70,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.status))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Healthy, Classify(100))
	assert.Equal(t, Healthy, Classify(80))
	assert.Equal(t, Degraded, Classify(79))
	assert.Equal(t, Degraded, Classify(50))
	assert.Equal(t, Unhealthy, Classify(49))
}

func TestOverall(t *testing.T) {
	assert.Equal(t, Unhealthy, Overall(nil))

	statuses := map[string]RepoStatus{
		"core":     {Repository: "core", Build: StatusSuccess, Test: StatusSuccess, Deploy: StatusSuccess},
		"frontend": {Repository: "frontend", Build: StatusSuccess, Test: StatusSuccess, Deploy: StatusSuccess},
	}
	assert.Equal(t, Healthy, Overall(statuses))

	statuses["frontend"] = RepoStatus{Repository: "frontend", Build: StatusSuccess, Test: StatusFailed, Deploy: StatusSuccess}
	assert.Equal(t, Degraded, Overall(statuses))

	statuses["core"] = RepoStatus{Repository: "core", Build: StatusFailed, Test: StatusFailed, Deploy: StatusFailed}
	assert.Equal(t, Unhealthy, Overall(statuses))
}

func TestIssues(t *testing.T) {
	s := RepoStatus{Repository: "core", Build: StatusFailed, Test: StatusSuccess, Deploy: StatusFailed}
	issues := Issues(s)
	assert.Equal(t, []string{"core: build failed", "core: deploy failed"}, issues)

	assert.Empty(t, Issues(RepoStatus{Build: StatusSuccess, Test: StatusSuccess, Deploy: StatusSuccess}))
}

func TestMonitorInterval(t *testing.T) {
	assert.Equal(t, 30*time.Second, MonitorInterval(Unhealthy))
	assert.Equal(t, 60*time.Second, MonitorInterval(Degraded))
	assert.Equal(t, 120*time.Second, MonitorInterval(Healthy))
}

func TestSummarize(t *testing.T) {
	statuses := map[string]RepoStatus{
		"core":     {Repository: "core", Build: StatusSuccess, Test: StatusSuccess, Deploy: StatusSuccess},
		"frontend": {Repository: "frontend", Build: StatusFailed, Test: StatusPending, Deploy: StatusPending},
	}
	sum := Summarize(statuses)

	assert.Equal(t, Unhealthy, sum.Overall)
	assert.Equal(t, 100, sum.Scores["core"])
	assert.Equal(t, 30, sum.Scores["frontend"])
	assert.Contains(t, sum.Issues, "frontend: build failed")
	assert.Len(t, sum.Recommendations, 1)
	assert.Contains(t, sum.Recommendations[0], "investigate frontend")
}
