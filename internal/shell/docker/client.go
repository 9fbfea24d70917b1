package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	buildtypes "github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// SDKClient implements Client against the local Docker daemon.
type SDKClient struct {
	cli *client.Client
}

// NewClient connects to the daemon. An empty host uses DOCKER_HOST or the
// default socket.
func NewClient(host string) (*SDKClient, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewClient", "", "", "failed to create client", ErrConnectionFailed)
	}
	return &SDKClient{cli: cli}, nil
}

func (d *SDKClient) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return NewDockerError("Ping", "", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

func (d *SDKClient) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Containers
// =============================================================================

// CreateContainer creates a container from the spec without starting it.
func (d *SDKClient) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	config := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Command,
		Entrypoint: spec.Entrypoint,
		WorkingDir: spec.WorkingDir,
		User:       spec.User,
		Labels:     spec.Labels,
	}
	for k, v := range spec.Env {
		config.Env = append(config.Env, k+"="+v)
	}
	if hc := spec.HealthCheck; hc != nil {
		config.Healthcheck = &container.HealthConfig{
			Test:        hc.Test,
			Interval:    hc.Interval,
			Timeout:     hc.Timeout,
			Retries:     hc.Retries,
			StartPeriod: hc.StartPeriod,
		}
	}

	hostConfig := &container.HostConfig{
		Mounts: specMounts(spec.Volumes),
	}
	if len(spec.Ports) > 0 {
		config.ExposedPorts, hostConfig.PortBindings = specPorts(spec.Ports)
	}
	if spec.RestartPolicy.Name != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name:              container.RestartPolicyMode(spec.RestartPolicy.Name),
			MaximumRetryCount: spec.RestartPolicy.MaximumRetryCount,
		}
	}

	var netConfig *network.NetworkingConfig
	if len(spec.Networks) > 0 {
		netConfig = &network.NetworkingConfig{
			EndpointsConfig: make(map[string]*network.EndpointSettings, len(spec.Networks)),
		}
		for _, n := range spec.Networks {
			netConfig.EndpointsConfig[n] = &network.EndpointSettings{}
		}
	}

	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, netConfig, nil, spec.Name)
	if err != nil {
		switch {
		case strings.Contains(err.Error(), "Conflict"):
			return "", NewDockerError("CreateContainer", "container", spec.Name, "container already exists", ErrContainerAlreadyExists)
		case strings.Contains(err.Error(), "port is already allocated"):
			return "", NewDockerError("CreateContainer", "container", spec.Name, err.Error(), ErrPortAlreadyAllocated)
		}
		return "", NewDockerError("CreateContainer", "container", spec.Name, err.Error(), err)
	}
	return resp.ID, nil
}

func specPorts(ports []PortBinding) (nat.PortSet, nat.PortMap) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		port := nat.Port(fmt.Sprintf("%d/%s", p.ContainerPort, proto))
		exposed[port] = struct{}{}

		hostPort := ""
		if p.HostPort != 0 {
			hostPort = fmt.Sprintf("%d", p.HostPort)
		}
		bindings[port] = []nat.PortBinding{{HostIP: p.HostIP, HostPort: hostPort}}
	}
	return exposed, bindings
}

func specMounts(volumes []VolumeMount) []mount.Mount {
	mounts := make([]mount.Mount, 0, len(volumes))
	for _, v := range volumes {
		mountType := mount.TypeVolume
		if strings.HasPrefix(v.Source, "/") {
			mountType = mount.TypeBind
		}
		mounts = append(mounts, mount.Mount{
			Type:     mountType,
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}
	return mounts
}

func (d *SDKClient) StartContainer(ctx context.Context, containerID string) error {
	err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{})
	switch {
	case err == nil:
		return nil
	case client.IsErrNotFound(err):
		return NewDockerError("StartContainer", "container", containerID, "container not found", ErrContainerNotFound)
	case strings.Contains(err.Error(), "is already running"):
		return NewDockerError("StartContainer", "container", containerID, "container is already running", ErrContainerAlreadyRunning)
	}
	return NewDockerError("StartContainer", "container", containerID, err.Error(), err)
}

func (d *SDKClient) StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error {
	opts := container.StopOptions{}
	if timeout != nil {
		seconds := int(timeout.Seconds())
		opts.Timeout = &seconds
	}
	err := d.cli.ContainerStop(ctx, containerID, opts)
	switch {
	case err == nil:
		return nil
	case client.IsErrNotFound(err):
		return NewDockerError("StopContainer", "container", containerID, "container not found", ErrContainerNotFound)
	case strings.Contains(err.Error(), "is not running"):
		return NewDockerError("StopContainer", "container", containerID, "container is not running", ErrContainerNotRunning)
	}
	return NewDockerError("StopContainer", "container", containerID, err.Error(), err)
}

func (d *SDKClient) RemoveContainer(ctx context.Context, containerID string, opts RemoveOptions) error {
	err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         opts.Force,
		RemoveVolumes: opts.RemoveVolumes,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewDockerError("RemoveContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return NewDockerError("RemoveContainer", "container", containerID, err.Error(), err)
	}
	return nil
}

func (d *SDKClient) InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error) {
	resp, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewDockerError("InspectContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return nil, NewDockerError("InspectContainer", "container", containerID, err.Error(), err)
	}

	info := &ContainerInfo{
		ID:        resp.ID,
		Name:      strings.TrimPrefix(resp.Name, "/"),
		Image:     resp.Config.Image,
		Status:    ContainerStatus(resp.State.Status),
		State:     resp.State.Status,
		Labels:    resp.Config.Labels,
		ExitCode:  resp.State.ExitCode,
		Ports:     inspectPorts(resp.NetworkSettings.Ports),
		CreatedAt: parseDockerTime(resp.Created),
	}
	if resp.State.Health != nil {
		info.Health = resp.State.Health.Status
	}
	if t := parseDockerTime(resp.State.StartedAt); !t.IsZero() {
		info.StartedAt = &t
	}
	if t := parseDockerTime(resp.State.FinishedAt); !t.IsZero() {
		info.FinishedAt = &t
	}
	return info, nil
}

// parseDockerTime handles the daemon's RFC3339Nano timestamps, returning the
// zero time for the "0001-01-01..." placeholder it uses for never-happened.
func parseDockerTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil || t.Year() <= 1 {
		return time.Time{}
	}
	return t
}

func inspectPorts(portMap nat.PortMap) []PortBinding {
	var ports []PortBinding
	for containerPort, bindings := range portMap {
		for _, binding := range bindings {
			var hostPort, targetPort int
			fmt.Sscanf(binding.HostPort, "%d", &hostPort)
			fmt.Sscanf(containerPort.Port(), "%d", &targetPort)
			ports = append(ports, PortBinding{
				ContainerPort: targetPort,
				HostPort:      hostPort,
				Protocol:      containerPort.Proto(),
				HostIP:        binding.HostIP,
			})
		}
	}
	return ports
}

func (d *SDKClient) ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error) {
	listOpts := container.ListOptions{All: opts.All}
	if len(opts.Filters) > 0 {
		f := filters.NewArgs()
		for k, v := range opts.Filters {
			f.Add(k, v)
		}
		listOpts.Filters = f
	}

	containers, err := d.cli.ContainerList(ctx, listOpts)
	if err != nil {
		return nil, NewDockerError("ListContainers", "container", "", err.Error(), err)
	}

	result := make([]ContainerInfo, 0, len(containers))
	for _, c := range containers {
		info := ContainerInfo{
			ID:        c.ID,
			Image:     c.Image,
			Status:    ContainerStatus(c.State),
			State:     c.State,
			CreatedAt: time.Unix(c.Created, 0),
			Labels:    c.Labels,
		}
		if len(c.Names) > 0 {
			info.Name = strings.TrimPrefix(c.Names[0], "/")
		}
		for _, p := range c.Ports {
			info.Ports = append(info.Ports, PortBinding{
				ContainerPort: int(p.PrivatePort),
				HostPort:      int(p.PublicPort),
				Protocol:      p.Type,
				HostIP:        p.IP,
			})
		}
		result = append(result, info)
	}
	return result, nil
}

func (d *SDKClient) ContainerLogs(ctx context.Context, containerID string, opts LogOptions) (io.ReadCloser, error) {
	logOpts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     opts.Follow,
		Tail:       opts.Tail,
		Timestamps: opts.Timestamps,
	}
	if !opts.Since.IsZero() {
		logOpts.Since = opts.Since.Format(time.RFC3339)
	}
	if !opts.Until.IsZero() {
		logOpts.Until = opts.Until.Format(time.RFC3339)
	}

	reader, err := d.cli.ContainerLogs(ctx, containerID, logOpts)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewDockerError("ContainerLogs", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return nil, NewDockerError("ContainerLogs", "container", containerID, err.Error(), err)
	}
	return reader, nil
}

// ExecCapture runs a command inside a running container and returns its
// stdout. A non-zero exit code is an error carrying the stderr output. Used
// for database dumps during backups.
func (d *SDKClient) ExecCapture(ctx context.Context, containerID string, cmd []string) ([]byte, error) {
	execID, err := d.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewDockerError("ExecCapture", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return nil, NewDockerError("ExecCapture", "container", containerID, err.Error(), ErrExecFailed)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, NewDockerError("ExecCapture", "container", containerID, err.Error(), ErrExecFailed)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return nil, NewDockerError("ExecCapture", "container", containerID, err.Error(), ErrExecFailed)
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return nil, NewDockerError("ExecCapture", "container", containerID, err.Error(), ErrExecFailed)
	}
	if inspect.ExitCode != 0 {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = fmt.Sprintf("exit code %d", inspect.ExitCode)
		}
		return nil, NewDockerError("ExecCapture", "container", containerID, msg, ErrExecFailed)
	}
	return stdout.Bytes(), nil
}

// =============================================================================
// Networks and volumes
// =============================================================================

func (d *SDKClient) CreateNetwork(ctx context.Context, spec NetworkSpec) (string, error) {
	driver := spec.Driver
	if driver == "" {
		driver = "bridge"
	}
	resp, err := d.cli.NetworkCreate(ctx, spec.Name, network.CreateOptions{
		Driver: driver,
		Labels: spec.Labels,
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return "", NewDockerError("CreateNetwork", "network", spec.Name, "network already exists", ErrNetworkAlreadyExists)
		}
		return "", NewDockerError("CreateNetwork", "network", spec.Name, err.Error(), err)
	}
	return resp.ID, nil
}

func (d *SDKClient) RemoveNetwork(ctx context.Context, networkID string) error {
	err := d.cli.NetworkRemove(ctx, networkID)
	switch {
	case err == nil:
		return nil
	case client.IsErrNotFound(err):
		return NewDockerError("RemoveNetwork", "network", networkID, "network not found", ErrNetworkNotFound)
	case strings.Contains(err.Error(), "has active endpoints"):
		return NewDockerError("RemoveNetwork", "network", networkID, "network has active endpoints", ErrNetworkInUse)
	}
	return NewDockerError("RemoveNetwork", "network", networkID, err.Error(), err)
}

func (d *SDKClient) CreateVolume(ctx context.Context, spec VolumeSpec) (string, error) {
	driver := spec.Driver
	if driver == "" {
		driver = "local"
	}
	resp, err := d.cli.VolumeCreate(ctx, volume.CreateOptions{
		Name:   spec.Name,
		Driver: driver,
		Labels: spec.Labels,
	})
	if err != nil {
		return "", NewDockerError("CreateVolume", "volume", spec.Name, err.Error(), err)
	}
	return resp.Name, nil
}

func (d *SDKClient) RemoveVolume(ctx context.Context, volumeName string, force bool) error {
	err := d.cli.VolumeRemove(ctx, volumeName, force)
	switch {
	case err == nil:
		return nil
	case client.IsErrNotFound(err):
		return NewDockerError("RemoveVolume", "volume", volumeName, "volume not found", ErrVolumeNotFound)
	case strings.Contains(err.Error(), "in use"):
		return NewDockerError("RemoveVolume", "volume", volumeName, "volume is in use", ErrVolumeInUse)
	}
	return NewDockerError("RemoveVolume", "volume", volumeName, err.Error(), err)
}

// =============================================================================
// Images
// =============================================================================

func (d *SDKClient) PullImage(ctx context.Context, imageName string, opts PullOptions) error {
	pullOpts := image.PullOptions{}
	if opts.Platform != "" {
		pullOpts.Platform = opts.Platform
	}
	reader, err := d.cli.ImagePull(ctx, imageName, pullOpts)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "not found") ||
			strings.Contains(msg, "manifest unknown") ||
			strings.Contains(msg, "repository does not exist") ||
			strings.Contains(msg, "pull access denied") {
			return NewDockerError("PullImage", "image", imageName, "image not found", ErrImageNotFound)
		}
		return NewDockerError("PullImage", "image", imageName, msg, ErrImagePullFailed)
	}
	defer reader.Close()

	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return NewDockerError("PullImage", "image", imageName, err.Error(), ErrImagePullFailed)
	}
	return nil
}

// BuildImage builds an image from a repository checkout. The context
// directory goes up as a tar stream; build failures surface the daemon's
// error message.
func (d *SDKClient) BuildImage(ctx context.Context, spec BuildSpec) error {
	buildCtx, err := archive.TarWithOptions(spec.ContextDir, &archive.TarOptions{})
	if err != nil {
		return NewDockerError("BuildImage", "image", spec.Tag, err.Error(), ErrImageBuildFailed)
	}
	defer buildCtx.Close()

	dockerfile := spec.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	buildArgs := make(map[string]*string, len(spec.BuildArgs))
	for k, v := range spec.BuildArgs {
		buildArgs[k] = &v
	}

	resp, err := d.cli.ImageBuild(ctx, buildCtx, buildtypes.ImageBuildOptions{
		Tags:       []string{spec.Tag},
		Dockerfile: dockerfile,
		BuildArgs:  buildArgs,
		Labels:     spec.Labels,
		Remove:     true,
	})
	if err != nil {
		return NewDockerError("BuildImage", "image", spec.Tag, err.Error(), ErrImageBuildFailed)
	}
	defer resp.Body.Close()

	// Failures come inline in the build stream; surface the first one.
	dec := json.NewDecoder(resp.Body)
	for {
		var msg struct {
			Error string `json:"error"`
		}
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return NewDockerError("BuildImage", "image", spec.Tag, err.Error(), ErrImageBuildFailed)
		}
		if msg.Error != "" {
			return NewDockerError("BuildImage", "image", spec.Tag, msg.Error, ErrImageBuildFailed)
		}
	}
	return nil
}

func (d *SDKClient) ImageExists(ctx context.Context, imageName string) (bool, error) {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, imageName)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, NewDockerError("ImageExists", "image", imageName, err.Error(), err)
	}
	return true, nil
}
