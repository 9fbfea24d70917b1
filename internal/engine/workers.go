package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vabhub/convoy/internal/core/health"
	"github.com/vabhub/convoy/internal/core/release"
	"github.com/vabhub/convoy/internal/shell/checks"
)

// =============================================================================
// Release Monitor
// =============================================================================

// monitorWindow is how long a completed release stays under close watch.
const monitorWindow = 30 * time.Minute

// ReleaseMonitor probes the installation's services on an adaptive interval
// and keeps the active release's severity and rollback recommendation current.
// The worse the installation looks, the more often it polls.
type ReleaseMonitor struct {
	deps   *Deps
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewReleaseMonitor(deps *Deps, logger *slog.Logger) *ReleaseMonitor {
	return &ReleaseMonitor{
		deps:   deps,
		logger: logger.With("component", "release_monitor"),
	}
}

func (m *ReleaseMonitor) Start() {
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.wg.Add(1)
	go m.run()
	m.logger.Info("release monitor started")
}

func (m *ReleaseMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *ReleaseMonitor) run() {
	defer m.wg.Done()

	interval := m.sweep()
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-timer.C:
			timer.Reset(m.sweep())
		}
	}
}

// sweep runs one probe pass and returns the interval until the next one.
func (m *ReleaseMonitor) sweep() time.Duration {
	ctx := m.ctx
	deps := m.deps

	results := deps.Checks.Run(ctx, checks.ForServices(deps.Topology.Services))

	statuses := make(map[string]health.RepoStatus, len(results))
	var problems []release.Problem
	for _, r := range results {
		deploy := health.StatusSuccess
		if !r.Passed {
			deploy = health.StatusFailed
			problems = append(problems, release.Problem{
				Type:        release.ProblemHealthCheckFailed,
				Description: r.Name + ": " + r.Detail,
				Severity:    release.DefaultSeverity(release.ProblemHealthCheckFailed),
			})
		}
		statuses[r.Name] = health.RepoStatus{
			Repository: r.Name,
			Build:      health.StatusSuccess,
			Test:       health.StatusSuccess,
			Deploy:     deploy,
		}
	}

	active := m.activeRelease(ctx)
	releaseVersion := ""
	if active != nil {
		releaseVersion = strVal(active["version"])
	}
	recordSnapshots(ctx, deps.Store, "", releaseVersion, results)

	if active != nil {
		severity := release.OverallSeverity(problems)
		recommendation := release.Recommendation(severity)
		prev := strVal(active["severity"])
		if severity != prev {
			deps.Store.Update(ctx, "releases", strVal(active["reference_id"]), map[string]any{
				"severity":       severity,
				"recommendation": recommendation,
			})
			msg := recommendation
			if len(problems) > 0 {
				var descs []string
				for _, p := range problems {
					descs = append(descs, p.Description)
				}
				msg += ": " + strings.Join(descs, "; ")
			}
			recordEvent(ctx, deps.Store, releaseVersion, "", "severity_changed", msg)
			m.logger.Warn("release severity changed",
				"release", releaseVersion, "severity", severity, "recommendation", recommendation)
		}
	}

	overall := health.Overall(statuses)
	next := health.MonitorInterval(overall)
	m.logger.Debug("monitor sweep complete", "overall", overall, "next_in", next)
	return next
}

// activeRelease returns the release currently being watched: one mid-rollout,
// or the most recent completion still inside the monitoring window.
func (m *ReleaseMonitor) activeRelease(ctx context.Context) map[string]any {
	rows, err := m.deps.Store.List(ctx, "releases",
		[]Filter{{Field: "status", Value: "releasing"}}, Page{Limit: 1})
	if err == nil && len(rows) > 0 {
		return rows[0]
	}

	rows, err = m.deps.Store.List(ctx, "releases",
		[]Filter{{Field: "status", Value: "completed"}}, Page{Limit: 1})
	if err != nil || len(rows) == 0 {
		return nil
	}
	completed, err := time.Parse(time.RFC3339, strVal(rows[0]["completed_at"]))
	if err != nil || time.Since(completed) > monitorWindow {
		return nil
	}
	return rows[0]
}

// =============================================================================
// Deployment Health Checker
// =============================================================================

// DeploymentHealthChecker refreshes container state for running deployments
// and fails a deployment whose containers have all gone down.
type DeploymentHealthChecker struct {
	deps     *Deps
	bus      *Bus
	interval time.Duration
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewDeploymentHealthChecker(deps *Deps, bus *Bus, interval time.Duration, logger *slog.Logger) *DeploymentHealthChecker {
	if interval == 0 {
		interval = 60 * time.Second
	}
	return &DeploymentHealthChecker{
		deps:     deps,
		bus:      bus,
		interval: interval,
		logger:   logger.With("component", "deployment_health"),
	}
}

func (h *DeploymentHealthChecker) Start() {
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.wg.Add(1)
	go h.run()
	h.logger.Info("deployment health checker started", "interval", h.interval)
}

func (h *DeploymentHealthChecker) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

func (h *DeploymentHealthChecker) run() {
	defer h.wg.Done()
	h.checkAll()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.checkAll()
		}
	}
}

func (h *DeploymentHealthChecker) checkAll() {
	ctx := h.ctx
	rows, err := h.deps.Store.List(ctx, "deployments",
		[]Filter{{Field: "status", Value: "running"}}, DefaultPage())
	if err != nil {
		h.logger.Error("failed to list deployments", "error", err)
		return
	}

	for _, row := range rows {
		refID := strVal(row["reference_id"])
		name := strVal(row["name"])

		containers, err := h.deps.Orchestrator.RefreshContainers(ctx, name)
		if err != nil {
			h.logger.Warn("failed to refresh containers", "deployment", name, "error", err)
			continue
		}

		h.deps.Store.Update(ctx, "deployments", refID, map[string]any{
			"containers": containers,
		})

		up := 0
		for _, c := range containers {
			if strings.Contains(c.Status, "running") || strings.HasPrefix(c.Status, "Up") {
				up++
			}
		}
		if len(containers) > 0 && up > 0 {
			continue
		}

		h.logger.Error("deployment containers are down", "deployment", name,
			"total", len(containers), "up", up)
		h.deps.Store.Update(ctx, "deployments", refID, map[string]any{
			"error_message": "all containers are down",
		})
		_, cmd, err := h.deps.Store.Transition(ctx, "deployments", refID, "failed")
		if err != nil {
			h.logger.Error("failed to mark deployment failed", "deployment", name, "error", err)
			continue
		}
		if cmd != "" {
			updated, err := h.deps.Store.Get(ctx, "deployments", refID)
			if err == nil {
				h.bus.Dispatch(ctx, cmd, updated)
			}
		}
	}
}

// =============================================================================
// Backup Janitor
// =============================================================================

// BackupJanitor executes pending backups and prunes archives past the
// retention policy.
type BackupJanitor struct {
	deps     *Deps
	bus      *Bus
	interval time.Duration
	maxAge   time.Duration
	maxCount int
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewBackupJanitor(deps *Deps, bus *Bus, interval, maxAge time.Duration, maxCount int, logger *slog.Logger) *BackupJanitor {
	if interval == 0 {
		interval = 15 * time.Minute
	}
	if maxAge == 0 {
		maxAge = 30 * 24 * time.Hour
	}
	if maxCount == 0 {
		maxCount = 20
	}
	return &BackupJanitor{
		deps:     deps,
		bus:      bus,
		interval: interval,
		maxAge:   maxAge,
		maxCount: maxCount,
		logger:   logger.With("component", "backup_janitor"),
	}
}

func (j *BackupJanitor) Start() {
	j.ctx, j.cancel = context.WithCancel(context.Background())
	j.wg.Add(1)
	go j.run()
	j.logger.Info("backup janitor started", "interval", j.interval,
		"max_age", j.maxAge, "max_count", j.maxCount)
}

func (j *BackupJanitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
}

func (j *BackupJanitor) run() {
	defer j.wg.Done()
	j.runCycle()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.runCycle()
		}
	}
}

func (j *BackupJanitor) runCycle() {
	ctx := j.ctx

	rows, err := j.deps.Store.List(ctx, "backups",
		[]Filter{{Field: "status", Value: "pending"}}, DefaultPage())
	if err != nil {
		j.logger.Error("failed to list pending backups", "error", err)
		return
	}
	for _, row := range rows {
		refID := strVal(row["reference_id"])
		updated, cmd, err := j.deps.Store.Transition(ctx, "backups", refID, "running")
		if err != nil {
			j.logger.Error("failed to start backup", "backup", refID, "error", err)
			continue
		}
		if err := j.bus.Dispatch(ctx, cmd, updated); err != nil {
			j.logger.Error("backup failed", "backup", refID, "error", err)
		}
	}

	removed, err := j.deps.Archiver.Prune(j.maxAge, j.maxCount)
	if err != nil {
		j.logger.Warn("archive pruning failed", "error", err)
		return
	}
	if len(removed) > 0 {
		j.logger.Info("pruned old archives", "count", len(removed))
	}
}
