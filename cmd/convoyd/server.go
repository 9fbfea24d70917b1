package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/vabhub/convoy/internal/core/manifest"
	"github.com/vabhub/convoy/internal/engine"
	"github.com/vabhub/convoy/internal/shell/api"
	"github.com/vabhub/convoy/internal/shell/backup"
	"github.com/vabhub/convoy/internal/shell/checks"
	"github.com/vabhub/convoy/internal/shell/docker"
	"github.com/vabhub/convoy/internal/shell/gitrepo"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitDockerError     = 3
	ExitHTTPServerError = 4
)

// =============================================================================
// Server
// =============================================================================

// Server is the convoy daemon: store, docker orchestrator, command bus,
// background workers, and the HTTP surface.
type Server struct {
	config         *Config
	httpServer     *http.Server
	store          *engine.Store
	docker         docker.Client
	releaseMonitor *engine.ReleaseMonitor
	healthChecker  *engine.DeploymentHealthChecker
	backupJanitor  *engine.BackupJanitor
	logger         *slog.Logger
}

// NewServer wires the full daemon from config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	// Topology first: nothing works without it
	topo := manifest.DefaultTopology()
	if cfg.Workspace.Topology != "" {
		loaded, err := manifest.LoadTopology(cfg.Workspace.Topology)
		if err != nil {
			return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
		}
		topo = loaded
	}
	if err := topo.Validate(); err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
	}

	// Database
	if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0o755); err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDatabaseError}
	}
	store, err := engine.OpenDB(cfg.Database.DSN, engine.Schema(), logger)
	if err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDatabaseError}
	}

	// Docker
	d, err := docker.NewClient(cfg.Docker.Host)
	if err != nil {
		store.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDockerError}
	}
	if err := d.Ping(context.Background()); err != nil {
		store.Close()
		d.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDockerError}
	}

	orchestrator := docker.NewOrchestrator(d, logger)
	git := gitrepo.NewClient(cfg.Git.CommandTimeout, logger)
	runner := checks.NewRunner(
		checks.NewRetryingClient(nil, checks.DefaultRetryConfig()),
		cfg.Checks.Concurrency, logger)
	archiver := backup.NewArchiver(cfg.Backup.Dir, logger)

	deps := &engine.Deps{
		Store:         store,
		Logger:        logger,
		Topology:      topo,
		Workspace:     cfg.Workspace.Root,
		Git:           git,
		Orchestrator:  orchestrator,
		Docker:        d,
		Checks:        runner,
		Archiver:      archiver,
		HealthTimeout: cfg.Checks.HealthTimeout,
	}

	// Offsite upload only when a bucket is configured
	if cfg.Backup.S3Bucket != "" {
		uploader, err := backup.NewUploader(context.Background(), backup.UploaderConfig{
			Bucket:    cfg.Backup.S3Bucket,
			Prefix:    cfg.Backup.S3Prefix,
			Region:    cfg.Backup.S3Region,
			AccessKey: cfg.Backup.S3AccessKey,
			SecretKey: cfg.Backup.S3SecretKey,
			Endpoint:  cfg.Backup.S3Endpoint,
		}, logger)
		if err != nil {
			store.Close()
			d.Close()
			return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
		}
		deps.Uploader = uploader
		logger.Info("offsite backup enabled", "bucket", cfg.Backup.S3Bucket)
	}

	bus := engine.NewBus(deps)
	engine.RegisterHandlers(bus)

	handler := api.NewHandler(api.Config{
		Store:   store,
		Bus:     bus,
		Deps:    deps,
		Docker:  d,
		Logger:  logger,
		Version: Version,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:         cfg,
		httpServer:     httpServer,
		store:          store,
		docker:         d,
		releaseMonitor: engine.NewReleaseMonitor(deps, logger),
		healthChecker: engine.NewDeploymentHealthChecker(deps, bus,
			cfg.Workers.DeploymentCheckInterval, logger),
		backupJanitor: engine.NewBackupJanitor(deps, bus,
			cfg.Workers.BackupInterval, cfg.Backup.MaxAge, cfg.Backup.MaxCount, logger),
		logger: logger,
	}, nil
}

// Start starts the workers and HTTP server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	s.releaseMonitor.Start()
	s.healthChecker.Start()
	s.backupJanitor.Start()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		return &ServerError{Op: "Start", Err: err, ExitCode: ExitHTTPServerError}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.backupJanitor.Stop()
	s.healthChecker.Stop()
	s.releaseMonitor.Stop()

	if err := s.docker.Close(); err != nil {
		s.logger.Error("Docker client close error", "error", err)
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
