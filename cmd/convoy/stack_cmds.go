package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vabhub/convoy/internal/core/compose"
	"github.com/vabhub/convoy/internal/core/manifest"
	"github.com/vabhub/convoy/internal/engine"
	"github.com/vabhub/convoy/internal/shell/checks"
	"github.com/vabhub/convoy/internal/shell/docker"
)

// =============================================================================
// init
// =============================================================================

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Bootstrap the workspace: create directories and clone every repository",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(false)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			for _, dir := range []string{a.cfg.WorkspaceRoot, a.cfg.BackupDir} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			fmt.Printf("workspace: %s\n", a.cfg.WorkspaceRoot)
			fmt.Printf("database:  %s\n", a.cfg.DatabaseDSN)
			fmt.Printf("backups:   %s\n", a.cfg.BackupDir)

			syncErr := a.bus.Dispatch(ctx, "SyncRepositories", nil)
			printRepositories(ctx, a)
			return syncErr
		},
	}
}

// =============================================================================
// build / start / stop / restart
// =============================================================================

func buildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build <environment>",
		Short: "Build every image the environment's stack needs, without starting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(true)
			if err != nil {
				return err
			}
			defer a.close()
			env := args[0]

			specText, err := composeSpecFor(a, env)
			if err != nil {
				return err
			}
			spec, err := compose.Parse(specText)
			if err != nil {
				return err
			}

			opts := docker.StackOptions{
				Name:      env,
				Release:   manifestRelease(a),
				Variables: processEnv(),
				BuildRoot: a.cfg.WorkspaceRoot,
			}
			if err := a.deps.Orchestrator.BuildImages(cmd.Context(), spec, opts); err != nil {
				return err
			}
			fmt.Printf("images built for %s (release %s)\n", env, opts.Release)
			return nil
		},
	}
}

func startCmd(use string) *cobra.Command {
	short := "Start the environment's stack"
	if use == "deploy" {
		short = "Deploy the environment: build, start, and wait for healthy"
	}
	return &cobra.Command{
		Use:   use + " <environment>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(true)
			if err != nil {
				return err
			}
			defer a.close()
			return startStack(cmd.Context(), a, args[0])
		},
	}
}

func startStack(ctx context.Context, a *app, env string) error {
	row, err := ensureDeployment(ctx, a, env)
	if err != nil {
		return err
	}
	if str(row, "status") == "running" {
		fmt.Printf("%s is already running\n", env)
		return nil
	}

	specText, err := composeSpecFor(a, env)
	if err != nil {
		return err
	}
	if _, err := a.store.Update(ctx, "deployments", str(row, "reference_id"), map[string]any{
		"compose_spec":    specText,
		"release_version": manifestRelease(a),
		"variables":       processEnv(),
	}); err != nil {
		return err
	}

	row, err = a.transition(ctx, "deployments", str(row, "reference_id"), "starting")
	printDeployment(row)
	return err
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <environment>",
		Short: "Stop the environment's stack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(true)
			if err != nil {
				return err
			}
			defer a.close()
			return stopStack(cmd.Context(), a, args[0])
		},
	}
}

func stopStack(ctx context.Context, a *app, env string) error {
	row, err := a.store.GetByField(ctx, "deployments", "name", env)
	if err != nil {
		return fmt.Errorf("deployment %s: %w", env, err)
	}
	if str(row, "status") != "running" {
		fmt.Printf("%s is %s, nothing to stop\n", env, str(row, "status"))
		return nil
	}

	if row, err = a.transition(ctx, "deployments", str(row, "reference_id"), "stopping"); err != nil {
		return err
	}
	printDeployment(row)
	return nil
}

func restartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <environment>",
		Short: "Restart the environment's stack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(true)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()
			env := args[0]

			if err := stopStack(ctx, a, env); err != nil && !errors.Is(err, engine.ErrNotFound) {
				return err
			}
			return startStack(ctx, a, env)
		},
	}
}

// =============================================================================
// status / check
// =============================================================================

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show repositories, deployments, and the active release",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(false)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			printRepositories(ctx, a)

			deployments, err := a.store.List(ctx, "deployments", nil, engine.DefaultPage())
			if err != nil {
				return err
			}
			if len(deployments) > 0 {
				fmt.Printf("\n%-16s %-12s %-10s %s\n", "DEPLOYMENT", "ENVIRONMENT", "STATUS", "RELEASE")
				for _, row := range deployments {
					rel := str(row, "release_version")
					if rel == "" {
						rel = "-"
					}
					fmt.Printf("%-16s %-12s %-10s %s\n",
						str(row, "name"), str(row, "environment"), str(row, "status"), rel)
				}
			}

			releases, err := a.store.List(ctx, "releases", nil, engine.Page{Limit: 1})
			if err == nil && len(releases) > 0 {
				fmt.Println()
				printRelease(releases[0])
			}

			backups, err := a.store.List(ctx, "backups",
				[]engine.Filter{{Field: "status", Value: "completed"}}, engine.Page{Limit: 1})
			if err == nil && len(backups) > 0 {
				fmt.Printf("\nlast backup: %s (%s) at %s\n",
					str(backups[0], "scope"), str(backups[0], "archive_path"),
					str(backups[0], "completed_at"))
			}
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run the service health probes once and report the results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(false)
			if err != nil {
				return err
			}
			defer a.close()

			results := a.deps.Checks.Run(cmd.Context(), checks.ForServices(a.topo.Services))
			for _, r := range results {
				mark := "ok"
				if !r.Passed {
					mark = "FAIL"
				}
				fmt.Printf("%-6s %-24s %-8s %s (%s)\n", mark, r.Name, r.Kind, r.Detail, r.Elapsed.Round(1e6))
			}
			if !checks.Passed(results) {
				return fmt.Errorf("health checks failed")
			}
			return nil
		},
	}
}

// =============================================================================
// Helpers
// =============================================================================

func ensureDeployment(ctx context.Context, a *app, env string) (map[string]any, error) {
	row, err := a.store.GetByField(ctx, "deployments", "name", env)
	if errors.Is(err, engine.ErrNotFound) {
		return a.store.Create(ctx, "deployments", map[string]any{
			"name":        env,
			"environment": env,
		})
	}
	return row, err
}

// composeSpecFor reads the environment's compose file from the deploy
// repository checkout.
func composeSpecFor(a *app, env string) (string, error) {
	var deployRepo *manifest.Repository
	for i, repo := range a.topo.Repositories {
		if repo.Role == manifest.RoleDeploy {
			deployRepo = &a.topo.Repositories[i]
			break
		}
	}
	if deployRepo == nil {
		return "", fmt.Errorf("no deploy repository in topology")
	}
	dir := a.topo.RepoPath(a.cfg.WorkspaceRoot, *deployRepo)

	candidates := []string{
		fmt.Sprintf("docker-compose.%s.yml", env),
		"docker-compose.yml",
		"docker-compose.yaml",
		"compose.yaml",
	}
	for _, name := range candidates {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil {
			return string(data), nil
		}
	}
	return "", fmt.Errorf("no compose file for %s under %s (run `convoy sync` first?)", env, dir)
}

func manifestRelease(a *app) string {
	for _, repo := range a.topo.Repositories {
		if repo.Role != manifest.RoleDeploy {
			continue
		}
		dir := a.topo.RepoPath(a.cfg.WorkspaceRoot, repo)
		m, err := manifest.LoadManifest(filepath.Join(dir, manifest.ManifestFile))
		if err == nil {
			return m.Release
		}
	}
	return ""
}

// processEnv exposes the caller's environment to compose variable
// substitution, the way the wrapped docker-compose invocations did.
func processEnv() map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

func printDeployment(row map[string]any) {
	if row == nil {
		return
	}
	fmt.Printf("deployment %s: %s", str(row, "name"), str(row, "status"))
	if rel := str(row, "release_version"); rel != "" {
		fmt.Printf(" (release %s)", rel)
	}
	fmt.Println()
	if msg := str(row, "error_message"); msg != "" {
		fmt.Printf("  %s\n", msg)
	}
	if containers, ok := row["containers"].([]any); ok {
		for _, c := range containers {
			if m, ok := c.(map[string]any); ok {
				fmt.Printf("  %-12s %-10s %s\n", m["service"], m["status"], m["health"])
			}
		}
	}
}
