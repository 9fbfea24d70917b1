// Package api assembles the convoy HTTP surface: health probes, the generic
// resource API, and the aggregated installation status endpoints.
package api

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vabhub/convoy/internal/core/health"
	"github.com/vabhub/convoy/internal/engine"
	"github.com/vabhub/convoy/internal/shell/docker"
)

// Config holds everything the HTTP surface needs.
type Config struct {
	Store   *engine.Store
	Bus     *engine.Bus
	Deps    *engine.Deps
	Docker  docker.Client
	Logger  *slog.Logger
	Version string
}

// NewHandler builds the complete router.
func NewHandler(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(recoveryMiddleware(cfg.Logger))
	router.Use(loggingMiddleware(cfg.Logger))

	// Liveness and readiness, plain JSON
	router.Get("/health", healthHandler(cfg.Version))
	router.Get("/api/health", healthHandler(cfg.Version))
	router.Get("/ready", readyHandler(cfg))

	// Generic resource CRUD plus state transitions
	engine.RegisterRoutes(router, engine.APIConfig{
		Store:  cfg.Store,
		Bus:    cfg.Bus,
		Logger: cfg.Logger,
	})

	// Aggregated views
	router.Get("/api/v1/status", statusHandler(cfg))
	router.Get("/api/v1/deployments/{id}/logs", deploymentLogsHandler(cfg))
	router.Get("/api/v1/releases/{id}/events", releaseEventsHandler(cfg))

	return router
}

// =============================================================================
// Middleware
// =============================================================================

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = "req_" + randomString(12)
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered", "error", err, "path", r.URL.Path)
					w.Header().Set("Content-Type", "application/vnd.api+json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]any{
						"errors": []map[string]any{
							{
								"status": "500",
								"title":  "Internal Server Error",
								"detail": "An unexpected error occurred",
							},
						},
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// =============================================================================
// Health Handlers
// =============================================================================

func healthHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "healthy",
			"version": version,
		})
	}
}

func readyHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		probes := map[string]string{"database": "ok", "docker": "ok"}
		ready := true

		if err := cfg.Store.DB().PingContext(r.Context()); err != nil {
			probes["database"] = "failed"
			ready = false
		}
		if cfg.Docker != nil {
			if err := cfg.Docker.Ping(r.Context()); err != nil {
				probes["docker"] = "failed"
				ready = false
			}
		}

		status := "ready"
		if !ready {
			status = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": status,
			"checks": probes,
		})
	}
}

// =============================================================================
// Aggregated Status
// =============================================================================

func statusHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		repos, err := cfg.Store.List(ctx, "repositories", nil, engine.DefaultPage())
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, err.Error())
			return
		}
		deployments, err := cfg.Store.List(ctx, "deployments", nil, engine.DefaultPage())
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, err.Error())
			return
		}

		statuses := make(map[string]health.RepoStatus, len(repos))
		repoViews := make([]map[string]any, 0, len(repos))
		for _, row := range repos {
			name, _ := row["name"].(string)
			syncErr, _ := row["sync_error"].(string)
			build := health.StatusSuccess
			if syncErr != "" {
				build = health.StatusFailed
			}
			statuses[name] = health.RepoStatus{
				Repository: name,
				Build:      build,
				Test:       health.StatusSuccess,
				Deploy:     deployOutcome(deployments),
			}
			repoViews = append(repoViews, map[string]any{
				"name":           name,
				"version":        row["current_version"],
				"last_synced_at": row["last_synced_at"],
				"sync_error":     syncErr,
			})
		}

		deployViews := make([]map[string]any, 0, len(deployments))
		for _, row := range deployments {
			deployViews = append(deployViews, map[string]any{
				"name":            row["name"],
				"environment":     row["environment"],
				"status":          row["status"],
				"release_version": row["release_version"],
			})
		}

		out := map[string]any{
			"overall":      health.Overall(statuses),
			"repositories": repoViews,
			"deployments":  deployViews,
		}
		if latest := latestRelease(ctx, cfg.Store); latest != nil {
			out["release"] = map[string]any{
				"version":        latest["version"],
				"status":         latest["status"],
				"severity":       latest["severity"],
				"recommendation": latest["recommendation"],
			}
		}
		if latest := latestBackup(ctx, cfg.Store); latest != nil {
			out["last_backup"] = map[string]any{
				"scope":        latest["scope"],
				"completed_at": latest["completed_at"],
				"size_bytes":   latest["size_bytes"],
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

// deployOutcome folds deployment rows into a single pipeline outcome.
func deployOutcome(deployments []map[string]any) string {
	if len(deployments) == 0 {
		return health.StatusUnknown
	}
	out := health.StatusSuccess
	for _, row := range deployments {
		switch row["status"] {
		case "failed":
			return health.StatusFailed
		case "running", "stopped", "deleted":
		default:
			out = health.StatusPending
		}
	}
	return out
}

func latestRelease(ctx context.Context, store *engine.Store) map[string]any {
	rows, err := store.List(ctx, "releases", nil, engine.Page{Limit: 1})
	if err != nil || len(rows) == 0 {
		return nil
	}
	return rows[0]
}

func latestBackup(ctx context.Context, store *engine.Store) map[string]any {
	rows, err := store.List(ctx, "backups",
		[]engine.Filter{{Field: "status", Value: "completed"}}, engine.Page{Limit: 1})
	if err != nil || len(rows) == 0 {
		return nil
	}
	return rows[0]
}

// =============================================================================
// Logs and Events
// =============================================================================

func deploymentLogsHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := chi.URLParam(r, "id")

		row, err := cfg.Store.Get(ctx, "deployments", id)
		if err != nil {
			writeAPIError(w, http.StatusNotFound, "deployment not found")
			return
		}
		stack, _ := row["name"].(string)

		service := r.URL.Query().Get("service")
		if service == "" {
			writeAPIError(w, http.StatusBadRequest, "service query parameter is required")
			return
		}
		tail := r.URL.Query().Get("tail")
		if tail == "" {
			tail = "200"
		}

		container, err := cfg.Deps.Orchestrator.FindContainer(ctx, stack, service)
		if err != nil {
			writeAPIError(w, http.StatusNotFound, "no container for service "+service)
			return
		}
		logs, err := cfg.Deps.Orchestrator.GetContainerLogs(ctx, container.ID, tail)
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, err.Error())
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(logs))
	}
}

func releaseEventsHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := chi.URLParam(r, "id")

		row, err := cfg.Store.Get(ctx, "releases", id)
		if err != nil {
			writeAPIError(w, http.StatusNotFound, "release not found")
			return
		}

		events, err := cfg.Store.RawQuery(ctx,
			`SELECT type, deployment, message, timestamp FROM release_events
			 WHERE release_version = ? ORDER BY timestamp DESC LIMIT 200`,
			row["version"])
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"events": events})
	}
}

// =============================================================================
// Helpers
// =============================================================================

func writeAPIError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/vnd.api+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"errors": []map[string]any{
			{
				"status": http.StatusText(status),
				"detail": detail,
			},
		},
	})
}

func randomString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		idx, _ := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		b[i] = letters[idx.Int64()]
	}
	return string(b)
}
