// Package gitrepo shells out to the system git binary for repository
// synchronization, tagging, and history queries. Using the operator's git
// keeps their credential helpers and ssh configuration in effect.
package gitrepo

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTimeout bounds a single git invocation. Clones of the larger
// repositories stay well under this on a normal connection.
const DefaultTimeout = 5 * time.Minute

// Client runs git commands inside repository working trees.
type Client struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient creates a git client. A zero timeout falls back to DefaultTimeout.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		timeout: timeout,
		logger:  logger.With("component", "gitrepo"),
	}
}

// run executes git with args in dir and returns trimmed stdout.
func (c *Client) run(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CloneOrPull ensures dir holds an up-to-date clone of url. An existing
// working tree is pulled; a missing one is cloned.
func (c *Client) CloneOrPull(ctx context.Context, url, dir string) error {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		c.logger.Debug("pulling repository", "dir", dir)
		if _, err := c.run(ctx, dir, "pull", "--ff-only"); err != nil {
			return fmt.Errorf("pull %s: %w", dir, err)
		}
		return nil
	}
	c.logger.Debug("cloning repository", "url", url, "dir", dir)
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	if _, err := c.run(ctx, "", "clone", url, dir); err != nil {
		return fmt.Errorf("clone %s: %w", url, err)
	}
	return nil
}

// Head returns the short commit hash of HEAD.
func (c *Client) Head(ctx context.Context, dir string) (string, error) {
	return c.run(ctx, dir, "rev-parse", "--short", "HEAD")
}

// LastCommitTime returns the commit time of HEAD.
func (c *Client) LastCommitTime(ctx context.Context, dir string) (time.Time, error) {
	out, err := c.run(ctx, dir, "log", "-1", "--format=%cI")
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339, out)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse commit time %q: %w", out, err)
	}
	return ts, nil
}

// Checkout switches the working tree to a ref (tag, branch, or commit).
func (c *Client) Checkout(ctx context.Context, dir, ref string) error {
	if _, err := c.run(ctx, dir, "checkout", ref); err != nil {
		return fmt.Errorf("checkout %s: %w", ref, err)
	}
	return nil
}

// Describe returns the most recent tag reachable from HEAD, exactly matching
// when HEAD is tagged.
func (c *Client) Describe(ctx context.Context, dir string) (string, error) {
	return c.run(ctx, dir, "describe", "--tags", "--always")
}

// CommitFile stages a single file and commits it.
func (c *Client) CommitFile(ctx context.Context, dir, file, message string) error {
	if _, err := c.run(ctx, dir, "add", file); err != nil {
		return err
	}
	if _, err := c.run(ctx, dir, "commit", "-m", message); err != nil {
		return err
	}
	return nil
}

// Tag creates an annotated tag at HEAD.
func (c *Client) Tag(ctx context.Context, dir, tag, message string) error {
	if _, err := c.run(ctx, dir, "tag", "-a", tag, "-m", message); err != nil {
		return fmt.Errorf("tag %s: %w", tag, err)
	}
	return nil
}

// LogSubjects returns commit subjects since a ref. An empty ref returns the
// last 50 subjects.
func (c *Client) LogSubjects(ctx context.Context, dir, sinceRef string) ([]string, error) {
	args := []string{"log", "--format=%s"}
	if sinceRef != "" {
		args = append(args, sinceRef+"..HEAD")
	} else {
		args = append(args, "-50")
	}
	out, err := c.run(ctx, dir, args...)
	if err != nil {
		return nil, err
	}
	return ParseSubjects(out), nil
}

// ParseSubjects splits git log --format=%s output into subjects, dropping
// blank lines.
func ParseSubjects(out string) []string {
	var subjects []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			subjects = append(subjects, line)
		}
	}
	return subjects
}
