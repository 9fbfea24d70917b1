package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vabhub/convoy/internal/core/manifest"
	"github.com/vabhub/convoy/internal/core/release"
	"github.com/vabhub/convoy/internal/core/version"
	"github.com/vabhub/convoy/internal/engine"
)

// =============================================================================
// sync
// =============================================================================

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Fetch all repositories and refresh their recorded versions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(false)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			syncErr := a.bus.Dispatch(ctx, "SyncRepositories", nil)
			printRepositories(ctx, a)
			return syncErr
		},
	}
}

func printRepositories(ctx context.Context, a *app) {
	rows, err := a.store.List(ctx, "repositories", nil, engine.DefaultPage())
	if err != nil {
		fmt.Fprintf(os.Stderr, "list repositories: %v\n", err)
		return
	}
	fmt.Printf("%-20s %-12s %-12s %s\n", "REPOSITORY", "VERSION", "COMMIT", "SYNCED")
	for _, row := range rows {
		v := str(row, "current_version")
		if v == "" {
			v = "-"
		}
		hash := str(row, "git_hash")
		if len(hash) > 10 {
			hash = hash[:10]
		}
		synced := str(row, "last_synced_at")
		if e := str(row, "sync_error"); e != "" {
			synced = "ERROR: " + e
		}
		fmt.Printf("%-20s %-12s %-12s %s\n", str(row, "name"), v, hash, synced)
	}
}

// =============================================================================
// validate / plan / release / rollback
// =============================================================================

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <version>",
		Short: "Validate a target release against the current repository versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(false)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			row, err := ensureRelease(ctx, a, args[0])
			if err != nil {
				return err
			}

			row, verr := revalidate(ctx, a, row)
			printRelease(row)
			return verr
		},
	}
}

// ensureRelease finds or creates the release row for a version.
func ensureRelease(ctx context.Context, a *app, target string) (map[string]any, error) {
	row, err := a.store.GetByField(ctx, "releases", "version", target)
	if errors.Is(err, engine.ErrNotFound) {
		return a.store.Create(ctx, "releases", map[string]any{"version": target})
	}
	return row, err
}

// revalidate runs validation when the release is in a state that allows it.
func revalidate(ctx context.Context, a *app, row map[string]any) (map[string]any, error) {
	switch str(row, "status") {
	case "draft", "rejected":
		return a.transition(ctx, "releases", str(row, "reference_id"), "validating")
	default:
		return row, nil
	}
}

func printRelease(row map[string]any) {
	if row == nil {
		return
	}
	fmt.Printf("release %s: %s", str(row, "version"), str(row, "status"))
	if risk := str(row, "risk"); risk != "" {
		fmt.Printf(" (risk: %s)", risk)
	}
	fmt.Println()
	if msg := str(row, "error_message"); msg != "" {
		fmt.Printf("  %s\n", msg)
	}
}

func planCmd() *cobra.Command {
	var dryRun bool

	c := &cobra.Command{
		Use:   "plan <version>",
		Short: "Show the release plan for a target version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(false)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()
			target := args[0]

			current, err := currentVersionsFromStore(ctx, a)
			if err != nil {
				return err
			}
			plan, err := release.NewPlan(a.topo, current, target)
			if err != nil {
				return err
			}

			fmt.Printf("plan for %s (risk: %s)\n", target, plan.Risk)
			fmt.Printf("order: %s\n", strings.Join(plan.Order, " -> "))
			for _, step := range plan.Steps {
				state := "ready"
				if !step.Ready {
					state = "blocked: " + step.Reason
				}
				cur := step.Current
				if cur == "" {
					cur = "?"
				}
				fmt.Printf("  %-20s %s -> %s  [%s]\n", step.Repository, cur, target, state)
			}

			if !dryRun {
				if row, err := a.store.GetByField(ctx, "releases", "version", target); err == nil {
					a.store.Update(ctx, "releases", str(row, "reference_id"), map[string]any{
						"plan":          plan,
						"release_order": plan.Order,
						"risk":          plan.Risk,
					})
				}
			}
			return nil
		},
	}
	c.Flags().BoolVar(&dryRun, "dry-run", false, "Compute only; never write the plan to the store")
	return c
}

func currentVersionsFromStore(ctx context.Context, a *app) (map[string]string, error) {
	rows, err := a.store.List(ctx, "repositories", nil, engine.DefaultPage())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no repositories recorded, run `convoy sync` first")
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[str(row, "name")] = str(row, "current_version")
	}
	return out, nil
}

func releaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <version>",
		Short: "Execute a release: bump, tag, rebuild, verify",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(true)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			row, err := ensureRelease(ctx, a, args[0])
			if err != nil {
				return err
			}
			row, err = revalidate(ctx, a, row)
			if err != nil {
				printRelease(row)
				return err
			}
			if str(row, "status") != "ready" {
				printRelease(row)
				return fmt.Errorf("release %s is %s, not ready", args[0], str(row, "status"))
			}

			row, err = a.transition(ctx, "releases", str(row, "reference_id"), "releasing")
			printRelease(row)
			return err
		},
	}
}

func rollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <from> <to>",
		Short: "Roll a release back to a previously tagged version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(true)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()
			from, to := args[0], args[1]

			row, err := a.store.GetByField(ctx, "releases", "version", from)
			if err != nil {
				return fmt.Errorf("release %s: %w", from, err)
			}
			if _, err := a.store.Update(ctx, "releases", str(row, "reference_id"), map[string]any{
				"previous_version": to,
			}); err != nil {
				return err
			}

			row, err = a.transition(ctx, "releases", str(row, "reference_id"), "rolling_back")
			printRelease(row)
			return err
		},
	}
}

// =============================================================================
// changelog
// =============================================================================

func changelogCmd() *cobra.Command {
	var since string

	c := &cobra.Command{
		Use:   "changelog <version>",
		Short: "Assemble a changelog from commit subjects across all repositories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(false)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()
			target := args[0]

			var b strings.Builder
			fmt.Fprintf(&b, "# Release v%s\n", target)

			order, err := manifest.ReleaseOrder(a.topo)
			if err != nil {
				return err
			}
			for _, name := range order {
				repo, ok := a.topo.Repository(name)
				if !ok {
					continue
				}
				dir := a.topo.RepoPath(a.cfg.WorkspaceRoot, repo)

				sinceRef := since
				if sinceRef == "" {
					if tag, err := a.deps.Git.Describe(ctx, dir); err == nil {
						sinceRef = tag
					}
				}
				subjects, err := a.deps.Git.LogSubjects(ctx, dir, sinceRef)
				if err != nil || len(subjects) == 0 {
					continue
				}

				fmt.Fprintf(&b, "\n## %s\n", name)
				for _, s := range subjects {
					fmt.Fprintf(&b, "- %s\n", s)
				}
			}

			changelog := b.String()
			fmt.Print(changelog)

			if row, err := a.store.GetByField(ctx, "releases", "version", target); err == nil {
				a.store.Update(ctx, "releases", str(row, "reference_id"), map[string]any{
					"changelog": changelog,
				})
			}
			return nil
		},
	}
	c.Flags().StringVar(&since, "since", "", "Git ref to collect subjects since (default: latest tag per repository)")
	return c
}

// =============================================================================
// versions
// =============================================================================

func versionsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "versions",
		Short: "Show the version report across the topology",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(false)
			if err != nil {
				return err
			}
			defer a.close()
			return printVersionReport(cmd.Context(), a, "")
		},
	}
	c.AddCommand(versionsUpdateCmd())
	return c
}

func printVersionReport(ctx context.Context, a *app, target string) error {
	rows, err := a.store.List(ctx, "repositories", nil, engine.DefaultPage())
	if err != nil {
		return err
	}
	versions := make(map[string]version.RepoVersion, len(rows))
	for _, row := range rows {
		name := str(row, "name")
		v := str(row, "current_version")
		versions[name] = version.RepoVersion{
			Repository: name,
			Version:    v,
			Versioned:  v != "",
			Error:      str(row, "sync_error"),
		}
	}

	report := version.BuildReport(versions, target)
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if !report.Healthy() {
		return fmt.Errorf("%d compatibility issue(s)", len(report.Issues))
	}
	return nil
}

func versionsUpdateCmd() *cobra.Command {
	var only string
	var tag bool

	c := &cobra.Command{
		Use:   "update <version>",
		Short: "Write a version into repository version files and the manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(false)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()
			target := args[0]

			if err := version.Validate(target); err != nil {
				return err
			}

			for _, repo := range a.topo.Repositories {
				if repo.Role == manifest.RoleDeploy {
					continue
				}
				if only != "" && repo.Name != only {
					continue
				}
				if err := writeRepoVersion(ctx, a, repo, target, tag); err != nil {
					return fmt.Errorf("%s: %w", repo.Name, err)
				}
				fmt.Printf("%s -> %s\n", repo.Name, target)
			}

			return writeDeployManifest(ctx, a, target, only, tag)
		},
	}
	c.Flags().StringVar(&only, "repo", "", "Update a single repository")
	c.Flags().BoolVar(&tag, "tag", false, "Commit the bump and apply the annotated release tag")
	return c
}

func writeRepoVersion(ctx context.Context, a *app, repo manifest.Repository, target string, tag bool) error {
	dir := a.topo.RepoPath(a.cfg.WorkspaceRoot, repo)
	file := repo.VersionFile
	if file == "" {
		file = "VERSION"
	}
	path := filepath.Join(dir, file)

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	updated, err := version.WriteFile(repo.Kind, data, target)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, updated, 0o644); err != nil {
		return err
	}

	if tag {
		if err := a.deps.Git.CommitFile(ctx, dir, file, fmt.Sprintf("release: v%s", target)); err != nil {
			return err
		}
		return a.deps.Git.Tag(ctx, dir, "v"+target, fmt.Sprintf("Release %s", target))
	}
	return nil
}

func writeDeployManifest(ctx context.Context, a *app, target, only string, tag bool) error {
	var deployRepo *manifest.Repository
	for i, repo := range a.topo.Repositories {
		if repo.Role == manifest.RoleDeploy {
			deployRepo = &a.topo.Repositories[i]
			break
		}
	}
	if deployRepo == nil {
		return nil
	}
	dir := a.topo.RepoPath(a.cfg.WorkspaceRoot, *deployRepo)
	path := filepath.Join(dir, manifest.ManifestFile)

	m, err := manifest.LoadManifest(path)
	if err != nil {
		m = &manifest.Manifest{Plugins: map[string]string{}}
	}
	for _, repo := range a.topo.Repositories {
		if only != "" && repo.Name != only {
			continue
		}
		switch repo.Role {
		case manifest.RoleCore:
			m.SetVersion(manifest.RoleCore, "", target)
		case manifest.RoleFrontend:
			m.SetVersion(manifest.RoleFrontend, "", target)
		case manifest.RolePlugin:
			m.SetVersion(manifest.RolePlugin, repo.Name, target)
		}
	}
	if only == "" {
		m.Release = target
	}
	if err := m.Save(path); err != nil {
		return err
	}
	fmt.Printf("manifest -> %s\n", path)

	if tag {
		return a.deps.Git.CommitFile(ctx, dir, manifest.ManifestFile,
			fmt.Sprintf("release: pin v%s", target))
	}
	return nil
}
