package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vabhub/convoy/internal/core/compose"
	"github.com/vabhub/convoy/internal/core/manifest"
	"github.com/vabhub/convoy/internal/core/release"
	"github.com/vabhub/convoy/internal/core/version"
	"github.com/vabhub/convoy/internal/shell/checks"
	"github.com/vabhub/convoy/internal/shell/docker"
)

// RegisterHandlers registers all command handlers on the bus.
func RegisterHandlers(bus *Bus) {
	// Repository sync
	bus.Register("SyncRepositories", SyncRepositories)

	// Release lifecycle
	bus.Register("ValidateRelease", validateRelease)
	bus.Register("ExecuteRelease", executeRelease)
	bus.Register("RollbackRelease", rollbackRelease)

	// Deployment lifecycle
	bus.Register("StartDeployment", startDeployment)
	bus.Register("StopDeployment", stopDeployment)
	bus.Register("DeleteDeployment", deleteDeployment)
	bus.Register("DeploymentRunning", deploymentRunning)
	bus.Register("DeploymentFailed", deploymentFailed)

	// Backups
	bus.Register("RunBackup", runBackup)
}

// =============================================================================
// Repository Sync
// =============================================================================

// SyncRepositories fetches every repository in the topology and refreshes its
// row: current version, HEAD, last commit time. Fetch failures are recorded
// per repository and do not abort the sweep.
func SyncRepositories(ctx context.Context, deps *Deps, _ map[string]any) error {
	store := deps.Store
	logger := deps.Logger

	var failed []string
	for _, repo := range deps.Topology.Repositories {
		dir := deps.Topology.RepoPath(deps.Workspace, repo)

		updates := map[string]any{
			"kind":       string(repo.Kind),
			"role":       string(repo.Role),
			"git_url":    repo.GitURL,
			"path":       repo.Path,
			"sync_error": "",
		}
		if len(repo.DependsOn) > 0 {
			updates["depends_on"] = repo.DependsOn
		}

		if err := deps.Git.CloneOrPull(ctx, repo.GitURL, dir); err != nil {
			logger.Warn("repository sync failed", "repository", repo.Name, "error", err)
			updates["sync_error"] = err.Error()
			failed = append(failed, repo.Name)
		} else {
			if v, err := readRepoVersion(repo, dir); err == nil {
				updates["current_version"] = v
			} else {
				updates["sync_error"] = err.Error()
			}
			if head, err := deps.Git.Head(ctx, dir); err == nil {
				updates["git_hash"] = head
			}
			if ts, err := deps.Git.LastCommitTime(ctx, dir); err == nil {
				updates["last_commit_at"] = ts.UTC().Format(time.RFC3339)
			}
			updates["last_synced_at"] = time.Now().UTC().Format(time.RFC3339)
		}

		if err := upsertRepository(ctx, store, repo.Name, updates); err != nil {
			return fmt.Errorf("record repository %s: %w", repo.Name, err)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("sync failed for: %s", strings.Join(failed, ", "))
	}
	logger.Info("repositories synced", "count", len(deps.Topology.Repositories))
	return nil
}

func upsertRepository(ctx context.Context, store *Store, name string, updates map[string]any) error {
	existing, err := store.GetByField(ctx, "repositories", "name", name)
	if err == nil {
		_, err = store.Update(ctx, "repositories", strVal(existing["reference_id"]), updates)
		return err
	}
	updates["name"] = name
	_, err = store.Create(ctx, "repositories", updates)
	return err
}

// =============================================================================
// Release Handlers
// =============================================================================

// validateRelease builds the release plan against the current repository
// versions and transitions to ready or rejected.
func validateRelease(ctx context.Context, deps *Deps, data map[string]any) error {
	store := deps.Store
	refID := strVal(data["reference_id"])
	target := strVal(data["version"])

	current, err := currentVersions(ctx, store)
	if err != nil {
		return failRelease(ctx, store, refID, "read repository versions: "+err.Error(), "rejected")
	}

	plan, err := release.NewPlan(deps.Topology, current, target)
	if err != nil {
		return failRelease(ctx, store, refID, err.Error(), "rejected")
	}

	updates := map[string]any{
		"plan":          plan,
		"release_order": plan.Order,
		"risk":          plan.Risk,
	}
	if m := deployManifest(deps); m != nil {
		updates["previous_version"] = m.Release
	}
	if _, err := store.Update(ctx, "releases", refID, updates); err != nil {
		return err
	}

	if !plan.Ready() {
		blockers := strings.Join(plan.Blockers(), "; ")
		recordEvent(ctx, store, target, "", "validation_rejected", blockers)
		return failRelease(ctx, store, refID, blockers, "rejected")
	}

	if _, _, err := store.Transition(ctx, "releases", refID, "ready"); err != nil {
		return err
	}
	recordEvent(ctx, store, target, "", "validation_passed", fmt.Sprintf("risk %s, %d steps", plan.Risk, len(plan.Steps)))
	deps.Logger.Info("release validated", "release", refID, "version", target, "risk", plan.Risk)
	return nil
}

// executeRelease walks the plan in dependency order: bump each repository's
// version file, commit and tag it, update the deploy manifest, restart the
// running stacks on the new release, then verify with the service checks.
func executeRelease(ctx context.Context, deps *Deps, data map[string]any) error {
	store := deps.Store
	logger := deps.Logger
	refID := strVal(data["reference_id"])
	target := strVal(data["version"])

	plan, err := planFromRow(data)
	if err != nil {
		return failRelease(ctx, store, refID, "decode plan: "+err.Error(), "failed")
	}

	store.Update(ctx, "releases", refID, map[string]any{
		"started_at": time.Now().UTC().Format(time.RFC3339),
	})
	recordEvent(ctx, store, target, "", "release_started", fmt.Sprintf("%d repositories", len(plan.Steps)))

	// Per-repository version bump, in dependency order.
	stepByRepo := make(map[string]release.Step, len(plan.Steps))
	for _, step := range plan.Steps {
		stepByRepo[step.Repository] = step
	}
	for _, name := range plan.Order {
		step := stepByRepo[name]
		if !step.Ready {
			logger.Debug("skipping repository", "repository", name, "reason", step.Reason)
			continue
		}
		repo, ok := deps.Topology.Repository(name)
		if !ok {
			return failRelease(ctx, store, refID, "unknown repository in plan: "+name, "failed")
		}
		if err := bumpRepository(ctx, deps, repo, target); err != nil {
			recordEvent(ctx, store, target, "", "release_step_failed", name+": "+err.Error())
			return failRelease(ctx, store, refID, fmt.Sprintf("%s: %v", name, err), "failed")
		}
		upsertRepository(ctx, store, name, map[string]any{"current_version": target})
		recordEvent(ctx, store, target, "", "release_step_completed", name)
	}

	if err := updateManifest(ctx, deps, target); err != nil {
		return failRelease(ctx, store, refID, "update manifest: "+err.Error(), "failed")
	}

	// Restart running stacks on the new release.
	if err := redeployRunning(ctx, deps, target); err != nil {
		return failRelease(ctx, store, refID, err.Error(), "failed")
	}

	// Post-release verification.
	results := deps.Checks.Run(ctx, checks.ForServices(deps.Topology.Services))
	recordSnapshots(ctx, store, "", target, results)
	if !checks.Passed(results) {
		return failRelease(ctx, store, refID, checkFailures(results), "failed")
	}

	store.Update(ctx, "releases", refID, map[string]any{
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	})
	if _, _, err := store.Transition(ctx, "releases", refID, "completed"); err != nil {
		return err
	}
	recordEvent(ctx, store, target, "", "release_completed", "")
	logger.Info("release completed", "release", refID, "version", target)
	return nil
}

// rollbackRelease rolls every repository back to the previous release in
// reverse dependency order and verifies the result.
func rollbackRelease(ctx context.Context, deps *Deps, data map[string]any) error {
	store := deps.Store
	logger := deps.Logger
	refID := strVal(data["reference_id"])
	from := strVal(data["version"])
	to := strVal(data["previous_version"])

	if to == "" {
		return failRelease(ctx, store, refID, "no previous version recorded, cannot roll back", "failed")
	}

	rp, err := release.NewRollbackPlan(deps.Topology, from, to)
	if err != nil {
		return failRelease(ctx, store, refID, err.Error(), "failed")
	}
	recordEvent(ctx, store, from, "", "rollback_started", "rolling back to "+to)

	for _, rr := range rp.Repos {
		repo, ok := deps.Topology.Repository(rr.Repository)
		if !ok {
			continue
		}
		dir := deps.Topology.RepoPath(deps.Workspace, repo)
		for _, action := range rr.Actions {
			var err error
			switch action.Kind {
			case release.ActionStopStack:
				err = stopRunningStacks(ctx, deps)
			case release.ActionCheckoutTag:
				err = deps.Git.Checkout(ctx, dir, "v"+to)
				if err == nil {
					upsertRepository(ctx, store, rr.Repository, map[string]any{"current_version": to})
				}
			case release.ActionBuildImages:
				// images rebuild as part of the stack restart
			case release.ActionStartStack:
				err = redeployRunning(ctx, deps, to)
			}
			if err != nil {
				recordEvent(ctx, store, from, "", "rollback_step_failed", rr.Repository+": "+err.Error())
				return failRelease(ctx, store, refID,
					fmt.Sprintf("rollback %s %s: %v", rr.Repository, action.Kind, err), "failed")
			}
		}
	}

	if err := updateManifest(ctx, deps, to); err != nil {
		logger.Warn("manifest update after rollback failed", "error", err)
	}

	// Verify the rolled-back installation.
	results := deps.Checks.Run(ctx, checks.ForServices(deps.Topology.Services))
	recordSnapshots(ctx, store, "", to, results)
	if !checks.Passed(results) {
		return failRelease(ctx, store, refID, "rollback verification: "+checkFailures(results), "failed")
	}

	if _, _, err := store.Transition(ctx, "releases", refID, "rolled_back"); err != nil {
		return err
	}
	recordEvent(ctx, store, from, "", "rollback_completed", "now at "+to)
	logger.Info("release rolled back", "release", refID, "from", from, "to", to)
	return nil
}

// bumpRepository writes the target version into the repository's version
// file, commits it, and applies the annotated release tag.
func bumpRepository(ctx context.Context, deps *Deps, repo manifest.Repository, target string) error {
	dir := deps.Topology.RepoPath(deps.Workspace, repo)
	file := versionFileName(repo)
	path := filepath.Join(dir, file)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	updated, err := version.WriteFile(repo.Kind, data, target)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, updated, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}
	if err := deps.Git.CommitFile(ctx, dir, file, fmt.Sprintf("release: v%s", target)); err != nil {
		return err
	}
	return deps.Git.Tag(ctx, dir, "v"+target, fmt.Sprintf("Release %s", target))
}

// updateManifest rewrites versions.json in the deploy repository from the
// current repository table and commits it.
func updateManifest(ctx context.Context, deps *Deps, target string) error {
	_, dir := deployDir(deps)
	if dir == "" {
		return fmt.Errorf("no deploy repository in topology")
	}

	path := filepath.Join(dir, manifest.ManifestFile)
	m, err := manifest.LoadManifest(path)
	if err != nil {
		m = &manifest.Manifest{Plugins: map[string]string{}}
	}
	m.Release = target
	for _, repo := range deps.Topology.Repositories {
		switch repo.Role {
		case manifest.RoleCore:
			m.SetVersion(manifest.RoleCore, "", target)
		case manifest.RoleFrontend:
			m.SetVersion(manifest.RoleFrontend, "", target)
		case manifest.RolePlugin:
			m.SetVersion(manifest.RolePlugin, repo.Name, target)
		}
	}
	if err := m.Save(path); err != nil {
		return err
	}
	return deps.Git.CommitFile(ctx, dir, manifest.ManifestFile, fmt.Sprintf("release: pin v%s", target))
}

// redeployRunning restarts every running deployment on the given release so
// its images are rebuilt from the freshly tagged checkouts.
func redeployRunning(ctx context.Context, deps *Deps, releaseVersion string) error {
	rows, err := deps.Store.List(ctx, "deployments", []Filter{{Field: "status", Value: "running"}}, DefaultPage())
	if err != nil {
		return fmt.Errorf("list running deployments: %w", err)
	}
	for _, row := range rows {
		name := strVal(row["name"])
		spec, err := compose.Parse(strVal(row["compose_spec"]))
		if err != nil {
			return fmt.Errorf("deployment %s: %w", name, err)
		}
		opts := docker.StackOptions{
			Name:      name,
			Release:   releaseVersion,
			Variables: toStringMap(row["variables"]),
			BuildRoot: deps.Workspace,
		}
		if err := deps.Orchestrator.StopStack(ctx, name); err != nil {
			return fmt.Errorf("stop stack %s: %w", name, err)
		}
		containers, err := deps.Orchestrator.StartStack(ctx, spec, opts)
		if err != nil {
			return fmt.Errorf("start stack %s: %w", name, err)
		}
		if err := deps.Orchestrator.WaitForHealthy(ctx, name, deps.HealthTimeout); err != nil {
			return fmt.Errorf("stack %s: %w", name, err)
		}
		deps.Store.Update(ctx, "deployments", strVal(row["reference_id"]), map[string]any{
			"containers":      containers,
			"release_version": releaseVersion,
		})
	}
	return nil
}

func stopRunningStacks(ctx context.Context, deps *Deps) error {
	rows, err := deps.Store.List(ctx, "deployments", []Filter{{Field: "status", Value: "running"}}, DefaultPage())
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := deps.Orchestrator.StopStack(ctx, strVal(row["name"])); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Deployment Handlers
// =============================================================================

// startDeployment parses the deployment's compose spec and brings the stack up.
func startDeployment(ctx context.Context, deps *Deps, data map[string]any) error {
	store := deps.Store
	logger := deps.Logger
	refID := strVal(data["reference_id"])
	name := strVal(data["name"])

	spec, err := compose.Parse(strVal(data["compose_spec"]))
	if err != nil {
		return failDeployment(ctx, deps, refID, "parse compose spec: "+err.Error())
	}

	opts := docker.StackOptions{
		Name:      name,
		Release:   strVal(data["release_version"]),
		Variables: toStringMap(data["variables"]),
		BuildRoot: deps.Workspace,
	}

	containers, err := deps.Orchestrator.StartStack(ctx, spec, opts)
	if err != nil {
		return failDeployment(ctx, deps, refID, "start stack: "+err.Error())
	}
	if err := deps.Orchestrator.WaitForHealthy(ctx, name, deps.HealthTimeout); err != nil {
		return failDeployment(ctx, deps, refID, err.Error())
	}

	store.Update(ctx, "deployments", refID, map[string]any{
		"containers": containers,
		"started_at": time.Now().UTC().Format(time.RFC3339),
	})
	row, _, err := store.Transition(ctx, "deployments", refID, "running")
	if err != nil {
		logger.Error("failed to transition to running", "deployment", refID, "error", err)
		return err
	}
	if err := deploymentRunning(ctx, deps, row); err != nil {
		logger.Error("failed to record running deployment", "deployment", refID, "error", err)
	}
	logger.Info("deployment started", "deployment", name, "containers", len(containers))
	return nil
}

// stopDeployment stops the stack's containers and transitions to stopped.
func stopDeployment(ctx context.Context, deps *Deps, data map[string]any) error {
	store := deps.Store
	logger := deps.Logger
	refID := strVal(data["reference_id"])
	name := strVal(data["name"])

	if err := deps.Orchestrator.StopStack(ctx, name); err != nil {
		logger.Error("failed to stop stack", "deployment", name, "error", err)
	}

	store.Update(ctx, "deployments", refID, map[string]any{
		"stopped_at": time.Now().UTC().Format(time.RFC3339),
	})
	if _, _, err := store.Transition(ctx, "deployments", refID, "stopped"); err != nil {
		logger.Error("failed to transition to stopped", "deployment", refID, "error", err)
		return err
	}
	logger.Info("deployment stopped", "deployment", name)
	return nil
}

// deleteDeployment removes the stack's containers and network.
func deleteDeployment(ctx context.Context, deps *Deps, data map[string]any) error {
	store := deps.Store
	logger := deps.Logger
	refID := strVal(data["reference_id"])
	name := strVal(data["name"])

	if err := deps.Orchestrator.RemoveStack(ctx, name); err != nil {
		logger.Warn("failed to remove stack", "deployment", name, "error", err)
	}

	if _, _, err := store.Transition(ctx, "deployments", refID, "deleted"); err != nil {
		logger.Error("failed to transition to deleted", "deployment", refID, "error", err)
		return err
	}
	logger.Info("deployment deleted", "deployment", name)
	return nil
}

// deploymentRunning is called when a deployment enters the running state.
func deploymentRunning(ctx context.Context, deps *Deps, data map[string]any) error {
	name := strVal(data["name"])
	recordEvent(ctx, deps.Store, strVal(data["release_version"]), name, "deployment_running", "")
	deps.Logger.Info("deployment is running", "deployment", name)
	return nil
}

// deploymentFailed is called when a deployment enters the failed state.
func deploymentFailed(ctx context.Context, deps *Deps, data map[string]any) error {
	name := strVal(data["name"])
	errMsg := strVal(data["error_message"])
	recordEvent(ctx, deps.Store, strVal(data["release_version"]), name, "deployment_failed", errMsg)
	deps.Logger.Error("deployment failed", "deployment", name, "error", errMsg)
	return nil
}

// =============================================================================
// Backup Handler
// =============================================================================

// runBackup archives the requested scope, records size and checksum, and
// uploads the archive offsite when an uploader is configured.
func runBackup(ctx context.Context, deps *Deps, data map[string]any) error {
	store := deps.Store
	logger := deps.Logger
	refID := strVal(data["reference_id"])
	scope := strVal(data["scope"])

	sources, err := backupSources(ctx, deps, scope, strVal(data["deployment_id"]))
	if err != nil {
		return failBackup(ctx, store, refID, err.Error())
	}

	archive, err := deps.Archiver.Create(ctx, scope, sources)
	if err != nil {
		return failBackup(ctx, store, refID, err.Error())
	}

	updates := map[string]any{
		"archive_path": archive.Path,
		"size_bytes":   archive.SizeBytes,
		"checksum":     archive.Checksum,
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	}
	if deps.Uploader != nil {
		key, err := deps.Uploader.Upload(ctx, archive.Path)
		if err != nil {
			logger.Warn("offsite upload failed, archive kept locally", "backup", refID, "error", err)
		} else {
			updates["remote_key"] = key
		}
	}

	if _, err := store.Update(ctx, "backups", refID, updates); err != nil {
		return err
	}
	if _, _, err := store.Transition(ctx, "backups", refID, "completed"); err != nil {
		return err
	}
	logger.Info("backup completed", "backup", refID, "scope", scope,
		"path", archive.Path, "size_bytes", archive.SizeBytes)
	return nil
}

// backupSources resolves the filesystem paths to archive for a scope. The
// database scope dumps postgres and redis through docker exec first.
func backupSources(ctx context.Context, deps *Deps, scope, deploymentRef string) ([]string, error) {
	_, deployPath := deployDir(deps)

	switch scope {
	case "configs":
		if deployPath == "" {
			return nil, fmt.Errorf("no deploy repository in topology")
		}
		return []string{deployPath}, nil
	case "volumes":
		return []string{filepath.Join(deps.Workspace, "data")}, nil
	case "database":
		return databaseDumps(ctx, deps, deploymentRef)
	case "full":
		dumps, err := databaseDumps(ctx, deps, deploymentRef)
		if err != nil {
			return nil, err
		}
		sources := dumps
		if deployPath != "" {
			sources = append(sources, deployPath)
		}
		return sources, nil
	default:
		return nil, fmt.Errorf("unknown backup scope: %s", scope)
	}
}

func databaseDumps(ctx context.Context, deps *Deps, deploymentRef string) ([]string, error) {
	stack, err := backupStack(ctx, deps, deploymentRef)
	if err != nil {
		return nil, err
	}

	var sources []string
	if c, err := deps.Orchestrator.FindContainer(ctx, stack, "db"); err == nil {
		dump, err := deps.Archiver.DumpPostgres(ctx, deps.Docker, c.ID, "vabhub", "vabhub")
		if err != nil {
			return nil, fmt.Errorf("postgres dump: %w", err)
		}
		sources = append(sources, dump)
	}
	if c, err := deps.Orchestrator.FindContainer(ctx, stack, "redis"); err == nil {
		dump, err := deps.Archiver.DumpRedis(ctx, deps.Docker, c.ID)
		if err != nil {
			return nil, fmt.Errorf("redis dump: %w", err)
		}
		sources = append(sources, dump)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no database containers found in stack %s", stack)
	}
	return sources, nil
}

// backupStack resolves which stack to dump from: the backup's deployment if
// set, otherwise the single running deployment.
func backupStack(ctx context.Context, deps *Deps, deploymentRef string) (string, error) {
	if deploymentRef != "" {
		row, err := deps.Store.Get(ctx, "deployments", deploymentRef)
		if err != nil {
			return "", err
		}
		return strVal(row["name"]), nil
	}
	rows, err := deps.Store.List(ctx, "deployments", []Filter{{Field: "status", Value: "running"}}, DefaultPage())
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("no running deployment to back up")
	}
	return strVal(rows[0]["name"]), nil
}

// =============================================================================
// Helpers
// =============================================================================

func failRelease(ctx context.Context, store *Store, refID, reason, state string) error {
	store.Update(ctx, "releases", refID, map[string]any{
		"error_message": reason,
	})
	store.Transition(ctx, "releases", refID, state)
	return fmt.Errorf("%s: %s", refID, reason)
}

func failDeployment(ctx context.Context, deps *Deps, refID, reason string) error {
	deps.Store.Update(ctx, "deployments", refID, map[string]any{
		"error_message": reason,
	})
	row, _, err := deps.Store.Transition(ctx, "deployments", refID, "failed")
	if err == nil {
		_ = deploymentFailed(ctx, deps, row)
	}
	return fmt.Errorf("%s: %s", refID, reason)
}

func failBackup(ctx context.Context, store *Store, refID, reason string) error {
	store.Update(ctx, "backups", refID, map[string]any{
		"error_message": reason,
	})
	store.Transition(ctx, "backups", refID, "failed")
	return fmt.Errorf("%s: %s", refID, reason)
}

// currentVersions reads the synced repository versions from the store.
func currentVersions(ctx context.Context, store *Store) (map[string]string, error) {
	rows, err := store.List(ctx, "repositories", nil, DefaultPage())
	if err != nil {
		return nil, err
	}
	versions := make(map[string]string, len(rows))
	for _, row := range rows {
		versions[strVal(row["name"])] = strVal(row["current_version"])
	}
	return versions, nil
}

// versionFileName returns the repository's version file, defaulting by kind.
func versionFileName(repo manifest.Repository) string {
	if repo.VersionFile != "" {
		return repo.VersionFile
	}
	switch repo.Kind {
	case manifest.KindPython:
		return "setup.py"
	case manifest.KindJavascript:
		return "package.json"
	default:
		return "VERSION"
	}
}

func readRepoVersion(repo manifest.Repository, dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, versionFileName(repo)))
	if err != nil {
		return "", err
	}
	return version.ReadFile(repo.Kind, data)
}

// deployDir returns the deploy-role repository and its checkout path.
func deployDir(deps *Deps) (manifest.Repository, string) {
	for _, repo := range deps.Topology.Repositories {
		if repo.Role == manifest.RoleDeploy {
			return repo, deps.Topology.RepoPath(deps.Workspace, repo)
		}
	}
	return manifest.Repository{}, ""
}

// deployManifest loads versions.json from the deploy checkout, if present.
func deployManifest(deps *Deps) *manifest.Manifest {
	_, dir := deployDir(deps)
	if dir == "" {
		return nil
	}
	m, err := manifest.LoadManifest(filepath.Join(dir, manifest.ManifestFile))
	if err != nil {
		return nil
	}
	return m
}

// planFromRow re-decodes the plan column (parsed JSON) into a release.Plan.
func planFromRow(row map[string]any) (*release.Plan, error) {
	raw, ok := row["plan"]
	if !ok || raw == nil {
		return nil, fmt.Errorf("release has no plan")
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var plan release.Plan
	if err := json.Unmarshal(b, &plan); err != nil {
		return nil, err
	}
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("release plan is empty")
	}
	return &plan, nil
}

// recordSnapshots persists probe results as health_snapshots rows.
func recordSnapshots(ctx context.Context, store *Store, deploymentRef, releaseVersion string, results []checks.Result) {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range results {
		status := "passed"
		if !r.Passed {
			status = "failed"
		}
		store.Create(ctx, "health_snapshots", map[string]any{
			"deployment_id":    deploymentRef,
			"release_version":  releaseVersion,
			"service":          r.Name,
			"status":           status,
			"response_time_ms": r.Elapsed.Milliseconds(),
			"detail":           r,
			"checked_at":       now,
		})
	}
}

func checkFailures(results []checks.Result) string {
	var failures []string
	for _, r := range results {
		if !r.Passed {
			failures = append(failures, fmt.Sprintf("%s: %s", r.Name, r.Detail))
		}
	}
	return "checks failed: " + strings.Join(failures, "; ")
}

// recordEvent appends a row to the release_events audit table.
func recordEvent(ctx context.Context, store *Store, releaseVersion, deployment, eventType, message string) {
	store.RawExec(ctx,
		`INSERT INTO release_events (reference_id, release_version, deployment, type, message, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		"evt_"+uuid.New().String()[:8], releaseVersion, deployment, eventType, message,
		time.Now().UTC().Format(time.RFC3339))
}

func toStringMap(v any) map[string]string {
	out := map[string]string{}
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			out[k] = fmt.Sprintf("%v", item)
		}
	case map[string]string:
		return val
	case string:
		var parsed map[string]string
		if err := json.Unmarshal([]byte(val), &parsed); err == nil {
			return parsed
		}
	}
	return out
}
