package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vabhub/convoy/internal/core/manifest"
	"github.com/vabhub/convoy/internal/shell/backup"
	"github.com/vabhub/convoy/internal/shell/checks"
	"github.com/vabhub/convoy/internal/shell/docker"
	"github.com/vabhub/convoy/internal/shell/gitrepo"
)

// Handler processes a command dispatched by the state machine.
type Handler func(ctx context.Context, deps *Deps, data map[string]any) error

// ArchiveUploader pushes a finished archive offsite and returns the remote key.
type ArchiveUploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// Deps holds dependencies available to all command handlers.
type Deps struct {
	Store    *Store
	Logger   *slog.Logger
	Topology *manifest.Topology

	// Workspace is the directory repositories are checked out under; the
	// deploy repository's checkout carries versions.json and the compose files.
	Workspace string

	Git          *gitrepo.Client
	Orchestrator *docker.Orchestrator
	Docker       docker.Client
	Checks       *checks.Runner
	Archiver     *backup.Archiver
	Uploader     ArchiveUploader // nil when offsite upload is not configured

	// HealthTimeout bounds WaitForHealthy after a stack start.
	HealthTimeout time.Duration
}

// Bus dispatches commands emitted by state machine transitions to registered
// handlers.
type Bus struct {
	handlers map[string]Handler
	deps     *Deps
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewBus creates a new command bus.
func NewBus(deps *Deps) *Bus {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.HealthTimeout == 0 {
		deps.HealthTimeout = 2 * time.Minute
	}
	return &Bus{
		handlers: make(map[string]Handler),
		deps:     deps,
		logger:   deps.Logger.With("component", "bus"),
	}
}

// Deps exposes the shared handler dependencies.
func (b *Bus) Deps() *Deps {
	return b.deps
}

// Register registers a handler for a command name.
func (b *Bus) Register(command string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[command] = handler
}

// Dispatch dispatches a command to its registered handler.
func (b *Bus) Dispatch(ctx context.Context, command string, data map[string]any) error {
	b.mu.RLock()
	handler, ok := b.handlers[command]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no handler registered for command", "command", command)
		return nil
	}

	b.logger.Debug("dispatching command", "command", command)
	if err := handler(ctx, b.deps, data); err != nil {
		b.logger.Error("command failed", "command", command, "error", err)
		return fmt.Errorf("command %s: %w", command, err)
	}

	return nil
}
