// Package docker wraps the Docker SDK for the container lifecycle work the
// orchestrator needs: stacks of containers, networks, volumes, image pulls
// and builds, and in-container command execution.
package docker

import (
	"context"
	"io"
	"time"
)

// Labels stamped on every resource convoy creates, so stacks can be listed
// and torn down by label filter alone.
const (
	LabelManaged = "convoy.managed"
	LabelStack   = "convoy.stack"
	LabelRelease = "convoy.release"
	LabelService = "convoy.service"
)

// ContainerSpec describes a container to create.
type ContainerSpec struct {
	Name          string
	Image         string
	Command       []string
	Entrypoint    []string
	Env           map[string]string
	Labels        map[string]string
	Ports         []PortBinding
	Volumes       []VolumeMount
	Networks      []string
	WorkingDir    string
	User          string
	RestartPolicy RestartPolicy
	HealthCheck   *HealthCheck
}

type PortBinding struct {
	ContainerPort int
	HostPort      int    // 0 lets the daemon pick
	Protocol      string // tcp or udp
	HostIP        string // empty binds 0.0.0.0
}

type VolumeMount struct {
	Source   string // volume name or host path
	Target   string // path inside the container
	ReadOnly bool
}

type RestartPolicy struct {
	Name              string // no, always, on-failure, unless-stopped
	MaximumRetryCount int
}

// HealthCheck mirrors the compose healthcheck block.
type HealthCheck struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// ContainerStatus is the daemon's lifecycle state for a container.
type ContainerStatus string

const (
	ContainerStatusCreated    ContainerStatus = "created"
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusPaused     ContainerStatus = "paused"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusRemoving   ContainerStatus = "removing"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusDead       ContainerStatus = "dead"
)

// ContainerInfo is the inspect/list view of a container.
type ContainerInfo struct {
	ID         string
	Name       string
	Image      string
	Status     ContainerStatus
	State      string
	Health     string // healthy, unhealthy, starting, or empty when no healthcheck
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Ports      []PortBinding
	Labels     map[string]string
	ExitCode   int
}

type NetworkSpec struct {
	Name   string
	Driver string
	Labels map[string]string
}

type VolumeSpec struct {
	Name   string
	Driver string
	Labels map[string]string
}

type RemoveOptions struct {
	Force         bool
	RemoveVolumes bool
}

type ListOptions struct {
	All     bool              // include stopped containers
	Filters map[string]string // e.g. {"label": "convoy.stack=production"}
}

type LogOptions struct {
	Follow     bool
	Tail       string // "all" or a line count
	Since      time.Time
	Until      time.Time
	Timestamps bool
}

type PullOptions struct {
	Platform string // e.g. linux/amd64
}

// BuildSpec describes an image build from a repository checkout.
type BuildSpec struct {
	ContextDir string // directory uploaded as the build context
	Dockerfile string // relative to ContextDir, defaults to Dockerfile
	Tag        string
	BuildArgs  map[string]string
	Labels     map[string]string
}

// Client is the Docker surface the orchestrator and backup code depend on.
// SDKClient is the production implementation; tests substitute fakes.
type Client interface {
	CreateContainer(ctx context.Context, spec ContainerSpec) (containerID string, err error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error
	RemoveContainer(ctx context.Context, containerID string, opts RemoveOptions) error
	InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error)
	ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error)
	ContainerLogs(ctx context.Context, containerID string, opts LogOptions) (io.ReadCloser, error)
	ExecCapture(ctx context.Context, containerID string, cmd []string) ([]byte, error)

	CreateNetwork(ctx context.Context, spec NetworkSpec) (networkID string, err error)
	RemoveNetwork(ctx context.Context, networkID string) error

	CreateVolume(ctx context.Context, spec VolumeSpec) (volumeName string, err error)
	RemoveVolume(ctx context.Context, volumeName string, force bool) error

	PullImage(ctx context.Context, image string, opts PullOptions) error
	BuildImage(ctx context.Context, spec BuildSpec) error
	ImageExists(ctx context.Context, image string) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}
