package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// CommandRunner executes a command inside a running container and returns
// its stdout. Implemented by the docker shell client.
type CommandRunner interface {
	ExecCapture(ctx context.Context, containerID string, cmd []string) ([]byte, error)
}

// DumpPostgres captures a pg_dump of the given database from a running
// postgres container into the backup directory. Returns the dump file path.
func (a *Archiver) DumpPostgres(ctx context.Context, runner CommandRunner, containerID, user, database string) (string, error) {
	out, err := runner.ExecCapture(ctx, containerID, []string{"pg_dump", "-U", user, "--no-owner", database})
	if err != nil {
		return "", fmt.Errorf("pg_dump: %w", err)
	}
	return a.writeDump(database+".sql", out)
}

// DumpRedis triggers a synchronous SAVE and captures the resulting RDB file
// from a running redis container.
func (a *Archiver) DumpRedis(ctx context.Context, runner CommandRunner, containerID string) (string, error) {
	if _, err := runner.ExecCapture(ctx, containerID, []string{"redis-cli", "SAVE"}); err != nil {
		return "", fmt.Errorf("redis save: %w", err)
	}
	out, err := runner.ExecCapture(ctx, containerID, []string{"cat", "/data/dump.rdb"})
	if err != nil {
		return "", fmt.Errorf("read redis dump: %w", err)
	}
	return a.writeDump("redis.rdb", out)
}

func (a *Archiver) writeDump(name string, data []byte) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	path := filepath.Join(a.dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write dump: %w", err)
	}
	a.logger.Info("database dump written", "path", path, "size_bytes", len(data))
	return path, nil
}
