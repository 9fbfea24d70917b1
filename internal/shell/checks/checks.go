package checks

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vabhub/convoy/internal/core/manifest"
)

// Check kinds.
const (
	KindHTTP    = "http"
	KindTCP     = "tcp"
	KindCommand = "command"
)

// Check is one validation probe.
type Check struct {
	Name         string        `json:"name"`
	Kind         string        `json:"kind"`
	URL          string        `json:"url,omitempty"`
	ExpectStatus int           `json:"expect_status,omitempty"`
	Host         string        `json:"host,omitempty"`
	Port         int           `json:"port,omitempty"`
	Command      string        `json:"command,omitempty"`
	Timeout      time.Duration `json:"-"`
}

// Result is the outcome of one probe.
type Result struct {
	Name    string        `json:"name"`
	Kind    string        `json:"kind"`
	Passed  bool          `json:"passed"`
	Detail  string        `json:"detail,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Runner executes probe sets.
type Runner struct {
	client      *RetryingClient
	concurrency int
	logger      *slog.Logger
}

// NewRunner creates a Runner. Concurrency below one defaults to four.
func NewRunner(client *RetryingClient, concurrency int, logger *slog.Logger) *Runner {
	if client == nil {
		client = NewRetryingClient(nil, DefaultRetryConfig())
	}
	if concurrency < 1 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		client:      client,
		concurrency: concurrency,
		logger:      logger.With("component", "checks"),
	}
}

// Run executes all checks concurrently and returns results in input order.
func (r *Runner) Run(ctx context.Context, checks []Check) []Result {
	results := make([]Result, len(checks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, check := range checks {
		g.Go(func() error {
			results[i] = r.runOne(ctx, check)
			return nil
		})
	}
	g.Wait()
	return results
}

// Passed reports whether every result passed.
func Passed(results []Result) bool {
	for _, res := range results {
		if !res.Passed {
			return false
		}
	}
	return true
}

func (r *Runner) runOne(ctx context.Context, check Check) Result {
	start := time.Now()
	res := Result{Name: check.Name, Kind: check.Kind}

	switch check.Kind {
	case KindHTTP:
		res.Passed, res.Detail = r.runHTTP(ctx, check)
	case KindTCP:
		res.Passed, res.Detail = r.runTCP(check)
	case KindCommand:
		res.Passed, res.Detail = r.runCommand(ctx, check)
	default:
		res.Detail = fmt.Sprintf("unknown check kind %q", check.Kind)
	}

	res.Elapsed = time.Since(start)
	r.logger.Debug("check finished",
		"name", check.Name, "kind", check.Kind, "passed", res.Passed, "elapsed", res.Elapsed)
	return res
}

func (r *Runner) runHTTP(ctx context.Context, check Check) (bool, string) {
	expect := check.ExpectStatus
	if expect == 0 {
		expect = 200
	}
	resp, err := r.client.Get(ctx, check.URL)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	if resp.StatusCode != expect {
		return false, fmt.Sprintf("got status %d, want %d", resp.StatusCode, expect)
	}
	return true, fmt.Sprintf("status %d", resp.StatusCode)
}

func (r *Runner) runTCP(check Check) (bool, string) {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	addr := net.JoinHostPort(check.Host, fmt.Sprint(check.Port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false, err.Error()
	}
	conn.Close()
	return true, "port open"
}

func (r *Runner) runCommand(ctx context.Context, check Check) (bool, string) {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", check.Command)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(out.String())
		if detail == "" {
			detail = err.Error()
		}
		return false, detail
	}
	return true, strings.TrimSpace(out.String())
}

// ForServices derives the standard probe set from the topology's services:
// an HTTP check where a health URL is declared, a command check where a
// check command is declared, and a TCP check for every exposed port.
func ForServices(services []manifest.Service) []Check {
	var out []Check
	for _, svc := range services {
		if svc.HealthURL != "" {
			out = append(out, Check{
				Name:         svc.Name + " health",
				Kind:         KindHTTP,
				URL:          svc.HealthURL,
				ExpectStatus: 200,
			})
		}
		if svc.CheckCmd != "" {
			out = append(out, Check{
				Name:    svc.Name + " command",
				Kind:    KindCommand,
				Command: svc.CheckCmd,
			})
		}
		if svc.Port > 0 {
			out = append(out, Check{
				Name: svc.Name + " port",
				Kind: KindTCP,
				Host: "localhost",
				Port: svc.Port,
			})
		}
	}
	return out
}
