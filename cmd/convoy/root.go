// Command convoy is the operator CLI: it drives releases, deployments, and
// backups against the local store and docker daemon directly, without going
// through convoyd.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vabhub/convoy/internal/core/manifest"
	"github.com/vabhub/convoy/internal/engine"
	"github.com/vabhub/convoy/internal/shell/backup"
	"github.com/vabhub/convoy/internal/shell/checks"
	"github.com/vabhub/convoy/internal/shell/docker"
	"github.com/vabhub/convoy/internal/shell/gitrepo"
)

var (
	flagConfig   string
	flagLogLevel string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "convoy",
		Short:         "convoy is a multi-repository deployment orchestrator",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug|info|warn|error)")

	cmd.AddCommand(
		initCmd(),
		syncCmd(),
		statusCmd(),
		validateCmd(),
		planCmd(),
		releaseCmd(),
		rollbackCmd(),
		buildCmd(),
		startCmd("start"),
		startCmd("deploy"),
		stopCmd(),
		restartCmd(),
		backupCmd(),
		changelogCmd(),
		versionsCmd(),
		checkCmd(),
		versionCmd(),
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("convoy %s (built %s)\n", Version, BuildTime)
		},
	}
}

// =============================================================================
// Configuration
// =============================================================================

// cliConfig carries the subset of daemon configuration the CLI needs. It
// reads the same file and CONVOY_ environment keys as convoyd.
type cliConfig struct {
	DatabaseDSN   string
	DockerHost    string
	WorkspaceRoot string
	TopologyFile  string
	BackupDir     string
	GitTimeout    time.Duration
	Concurrency   int
	HealthTimeout time.Duration
}

func loadCLIConfig() (*cliConfig, error) {
	v := viper.New()

	v.SetDefault("database.dsn", "./data/convoy.db")
	v.SetDefault("docker.host", "")
	v.SetDefault("workspace.root", "./data/repos")
	v.SetDefault("workspace.topology", "")
	v.SetDefault("backup.dir", "./data/backups")
	v.SetDefault("git.command_timeout", "5m")
	v.SetDefault("checks.concurrency", 4)
	v.SetDefault("checks.health_timeout", "2m")

	if flagConfig != "" {
		v.SetConfigFile(flagConfig)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CONVOY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &cliConfig{
		DatabaseDSN:   v.GetString("database.dsn"),
		DockerHost:    v.GetString("docker.host"),
		WorkspaceRoot: v.GetString("workspace.root"),
		TopologyFile:  v.GetString("workspace.topology"),
		BackupDir:     v.GetString("backup.dir"),
		GitTimeout:    v.GetDuration("git.command_timeout"),
		Concurrency:   v.GetInt("checks.concurrency"),
		HealthTimeout: v.GetDuration("checks.health_timeout"),
	}, nil
}

func newLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(flagLogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// =============================================================================
// App wiring
// =============================================================================

// app is the CLI's wired runtime: the same store, bus, and shell clients the
// daemon uses, connected for a single command.
type app struct {
	cfg    *cliConfig
	logger *slog.Logger
	topo   *manifest.Topology
	store  *engine.Store
	docker docker.Client
	deps   *engine.Deps
	bus    *engine.Bus
}

// setup wires the app. Docker is optional: commands that never touch the
// daemon (sync, plan, changelog) work without one.
func setup(needDocker bool) (*app, error) {
	cfg, err := loadCLIConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger()

	topo := manifest.DefaultTopology()
	if cfg.TopologyFile != "" {
		topo, err = manifest.LoadTopology(cfg.TopologyFile)
		if err != nil {
			return nil, err
		}
	}
	if err := topo.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabaseDSN), 0o755); err != nil {
		return nil, err
	}
	store, err := engine.OpenDB(cfg.DatabaseDSN, engine.Schema(), logger)
	if err != nil {
		return nil, err
	}

	deps := &engine.Deps{
		Store:         store,
		Logger:        logger,
		Topology:      topo,
		Workspace:     cfg.WorkspaceRoot,
		Git:           gitrepo.NewClient(cfg.GitTimeout, logger),
		Checks:        checks.NewRunner(checks.NewRetryingClient(nil, checks.DefaultRetryConfig()), cfg.Concurrency, logger),
		Archiver:      backup.NewArchiver(cfg.BackupDir, logger),
		HealthTimeout: cfg.HealthTimeout,
	}

	a := &app{cfg: cfg, logger: logger, topo: topo, store: store, deps: deps}

	if needDocker {
		d, err := docker.NewClient(cfg.DockerHost)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("connect to docker: %w", err)
		}
		if err := d.Ping(context.Background()); err != nil {
			store.Close()
			d.Close()
			return nil, fmt.Errorf("docker daemon not reachable: %w", err)
		}
		a.docker = d
		deps.Docker = d
		deps.Orchestrator = docker.NewOrchestrator(d, logger)
	}

	a.bus = engine.NewBus(deps)
	engine.RegisterHandlers(a.bus)
	return a, nil
}

func (a *app) close() {
	if a.docker != nil {
		a.docker.Close()
	}
	a.store.Close()
}

// transition advances a row and runs the resulting command synchronously,
// returning the row as it looks afterwards.
func (a *app) transition(ctx context.Context, resource, refID, state string) (map[string]any, error) {
	row, cmd, err := a.store.Transition(ctx, resource, refID, state)
	if err != nil {
		return nil, err
	}
	if cmd != "" {
		if err := a.bus.Dispatch(ctx, cmd, row); err != nil {
			fresh, _ := a.store.Get(ctx, resource, refID)
			return fresh, err
		}
	}
	return a.store.Get(ctx, resource, refID)
}

func str(row map[string]any, key string) string {
	s, _ := row[key].(string)
	return s
}
