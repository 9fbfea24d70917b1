package docker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/vabhub/convoy/internal/core/compose"
)

// =============================================================================
// Orchestrator - Stack Lifecycle
// =============================================================================

// Orchestrator drives the lifecycle of environment stacks: the set of
// containers, one network, and the named volumes that make up a deployed
// environment.
type Orchestrator struct {
	docker Client
	logger *slog.Logger
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(docker Client, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		docker: docker,
		logger: logger.With("component", "orchestrator"),
	}
}

// ContainerSummary is the per-service container state recorded on a
// deployment.
type ContainerSummary struct {
	ID      string        `json:"id"`
	Service string        `json:"service"`
	Image   string        `json:"image"`
	Status  string        `json:"status"`
	Health  string        `json:"health,omitempty"`
	Ports   []PortBinding `json:"ports,omitempty"`
}

// StackOptions parameterize a stack start.
type StackOptions struct {
	Name      string            // stack name, e.g. the environment
	Release   string            // release version recorded on every resource
	Variables map[string]string // substituted into service environments
	BuildRoot string            // base directory for build contexts
}

// NetworkName returns the network name for a stack.
func NetworkName(stack string) string { return "convoy-" + stack }

// ContainerName returns the container name for a stack service.
func ContainerName(stack, service string) string {
	return fmt.Sprintf("convoy-%s-%s", stack, service)
}

// StackVolumeName returns the docker volume name for a stack volume.
func StackVolumeName(stack, volume string) string {
	return fmt.Sprintf("convoy-%s-%s", stack, volume)
}

// ImageTag returns the tag applied to images built for a stack service.
func ImageTag(stack, service, release string) string {
	if release == "" {
		release = "latest"
	}
	return fmt.Sprintf("convoy/%s-%s:%s", stack, service, release)
}

func (o *Orchestrator) stackLabels(opts StackOptions) map[string]string {
	labels := map[string]string{
		LabelManaged: "true",
		LabelStack:   opts.Name,
	}
	if opts.Release != "" {
		labels[LabelRelease] = opts.Release
	}
	return labels
}

// =============================================================================
// Start Stack
// =============================================================================

// StartStack brings an environment stack up: network, volumes, images
// (pulled or built from repository checkouts), then containers in dependency
// order. Partial failures tear down what this call created.
func (o *Orchestrator) StartStack(ctx context.Context, spec *compose.Spec, opts StackOptions) ([]ContainerSummary, error) {
	o.logger.Info("starting stack",
		"stack", opts.Name,
		"release", opts.Release,
		"services", len(spec.Services),
	)

	networkName := NetworkName(opts.Name)
	networkID, err := o.ensureNetwork(ctx, networkName, opts)
	if err != nil {
		return nil, fmt.Errorf("create network: %w", err)
	}

	for _, vol := range spec.Volumes {
		if vol.External {
			continue
		}
		if err := o.ensureVolume(ctx, StackVolumeName(opts.Name, vol.Name), opts); err != nil {
			_ = o.docker.RemoveNetwork(ctx, networkID)
			return nil, fmt.Errorf("create volume %s: %w", vol.Name, err)
		}
	}

	if err := o.ensureImages(ctx, spec, opts); err != nil {
		_ = o.docker.RemoveNetwork(ctx, networkID)
		return nil, err
	}

	// Existing containers are reused on restart.
	existing, _ := o.docker.ListContainers(ctx, ListOptions{
		All:     true,
		Filters: map[string]string{"label": fmt.Sprintf("%s=%s", LabelStack, opts.Name)},
	})
	existingByService := make(map[string]ContainerInfo)
	for _, c := range existing {
		if svc, ok := c.Labels[LabelService]; ok {
			existingByService[svc] = c
		}
	}

	var summaries []ContainerSummary
	created := make(map[string]string) // service -> container ID
	fail := func(err error) ([]ContainerSummary, error) {
		o.cleanupCreated(ctx, created)
		_ = o.docker.RemoveNetwork(ctx, networkID)
		return nil, err
	}

	for _, svc := range compose.StartOrder(spec.Services) {
		var containerID string
		if ex, found := existingByService[svc.Name]; found {
			containerID = ex.ID
			o.logger.Debug("reusing container", "service", svc.Name, "container_id", shortID(containerID))
		} else {
			cspec := o.buildContainerSpec(svc, opts, networkName)
			containerID, err = o.docker.CreateContainer(ctx, cspec)
			if err != nil {
				return fail(fmt.Errorf("create container %s: %w", svc.Name, err))
			}
			o.logger.Debug("created container", "service", svc.Name, "container_id", shortID(containerID))
			created[svc.Name] = containerID
		}

		if err := o.docker.StartContainer(ctx, containerID); err != nil {
			if !strings.Contains(err.Error(), "already running") {
				return fail(fmt.Errorf("start container %s: %w", svc.Name, err))
			}
		}

		info, err := o.docker.InspectContainer(ctx, containerID)
		if err != nil {
			return fail(fmt.Errorf("inspect container %s: %w", svc.Name, err))
		}
		summaries = append(summaries, ContainerSummary{
			ID:      info.ID,
			Service: svc.Name,
			Image:   info.Image,
			Status:  string(info.Status),
			Health:  info.Health,
			Ports:   info.Ports,
		})
	}

	o.logger.Info("stack started", "stack", opts.Name, "containers", len(summaries))
	return summaries, nil
}

// BuildImages prepares every image the stack needs without starting any
// containers: repository services are built, the rest pulled.
func (o *Orchestrator) BuildImages(ctx context.Context, spec *compose.Spec, opts StackOptions) error {
	return o.ensureImages(ctx, spec, opts)
}

// ensureImages pulls remote images and builds repository-based ones.
func (o *Orchestrator) ensureImages(ctx context.Context, spec *compose.Spec, opts StackOptions) error {
	for _, svc := range spec.Services {
		switch {
		case svc.Build != nil:
			tag := ImageTag(opts.Name, svc.Name, opts.Release)
			contextDir := svc.Build.Context
			if !filepath.IsAbs(contextDir) {
				contextDir = filepath.Join(opts.BuildRoot, contextDir)
			}
			o.logger.Info("building image", "service", svc.Name, "tag", tag, "context", contextDir)
			if err := o.docker.BuildImage(ctx, BuildSpec{
				ContextDir: contextDir,
				Dockerfile: svc.Build.Dockerfile,
				Tag:        tag,
				Labels:     o.stackLabels(opts),
			}); err != nil {
				return fmt.Errorf("build image for %s: %w", svc.Name, err)
			}
		case svc.Image != "":
			imageName := compose.SubstituteValue(svc.Image, opts.Variables)
			exists, _ := o.docker.ImageExists(ctx, imageName)
			if !exists {
				o.logger.Info("pulling image", "image", imageName)
				if err := o.docker.PullImage(ctx, imageName, PullOptions{}); err != nil {
					o.logger.Warn("failed to pull image, trying anyway", "image", imageName, "error", err)
				}
			}
		}
	}
	return nil
}

// =============================================================================
// Wait for Healthy
// =============================================================================

// WaitForHealthy polls the stack's containers until all report healthy (or
// running, for containers without a health check), or the timeout elapses.
func (o *Orchestrator) WaitForHealthy(ctx context.Context, stack string, timeout time.Duration) error {
	o.logger.Info("waiting for stack health", "stack", stack, "timeout", timeout)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			healthy, err := o.allHealthy(ctx, stack)
			if err != nil {
				return err
			}
			if healthy {
				o.logger.Info("stack healthy", "stack", stack)
				return nil
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("timeout waiting for stack %s to become healthy", stack)
			}
			o.logger.Debug("stack not yet healthy", "stack", stack)
		}
	}
}

func (o *Orchestrator) allHealthy(ctx context.Context, stack string) (bool, error) {
	containers, err := o.docker.ListContainers(ctx, ListOptions{
		All:     true,
		Filters: map[string]string{"label": fmt.Sprintf("%s=%s", LabelStack, stack)},
	})
	if err != nil {
		return false, fmt.Errorf("list containers: %w", err)
	}
	if len(containers) == 0 {
		return false, fmt.Errorf("no containers found for stack %s", stack)
	}
	for _, c := range containers {
		info, err := o.docker.InspectContainer(ctx, c.ID)
		if err != nil {
			return false, fmt.Errorf("inspect container %s: %w", c.Name, err)
		}
		if info.Health != "" {
			if info.Health == "unhealthy" {
				return false, fmt.Errorf("container %s is unhealthy", info.Name)
			}
			if info.Health != "healthy" {
				return false, nil
			}
		} else if info.Status != ContainerStatusRunning {
			return false, nil
		}
	}
	return true, nil
}

// =============================================================================
// Stop / Remove Stack
// =============================================================================

// StopStack stops all running containers of a stack, dependents first.
func (o *Orchestrator) StopStack(ctx context.Context, stack string) error {
	o.logger.Info("stopping stack", "stack", stack)

	containers, err := o.docker.ListContainers(ctx, ListOptions{
		All:     true,
		Filters: map[string]string{"label": fmt.Sprintf("%s=%s", LabelStack, stack)},
	})
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}

	timeout := 10 * time.Second
	for _, c := range containers {
		if c.Status != ContainerStatusRunning {
			continue
		}
		o.logger.Debug("stopping container", "container_id", shortID(c.ID), "name", c.Name)
		if err := o.docker.StopContainer(ctx, c.ID, &timeout); err != nil {
			o.logger.Warn("failed to stop container", "container_id", shortID(c.ID), "error", err)
		}
	}
	o.logger.Info("stack stopped", "stack", stack, "containers", len(containers))
	return nil
}

// RemoveStack removes a stack's containers and network. Volumes survive
// teardown; callers that own the stack spec use RemoveStackVolumes for
// targeted cleanup.
func (o *Orchestrator) RemoveStack(ctx context.Context, stack string) error {
	o.logger.Info("removing stack", "stack", stack)

	containers, err := o.docker.ListContainers(ctx, ListOptions{
		All:     true,
		Filters: map[string]string{"label": fmt.Sprintf("%s=%s", LabelStack, stack)},
	})
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}

	timeout := 10 * time.Second
	for _, c := range containers {
		if c.Status == ContainerStatusRunning {
			_ = o.docker.StopContainer(ctx, c.ID, &timeout)
		}
		if err := o.docker.RemoveContainer(ctx, c.ID, RemoveOptions{Force: true}); err != nil {
			o.logger.Warn("failed to remove container", "container_id", shortID(c.ID), "error", err)
		}
	}

	if err := o.docker.RemoveNetwork(ctx, NetworkName(stack)); err != nil {
		o.logger.Warn("failed to remove network", "network", NetworkName(stack), "error", err)
	}

	o.logger.Info("stack removed", "stack", stack)
	return nil
}

// RemoveStackVolumes removes the named volumes of a stack.
func (o *Orchestrator) RemoveStackVolumes(ctx context.Context, stack string, volumes []string) error {
	for _, vol := range volumes {
		name := StackVolumeName(stack, vol)
		if err := o.docker.RemoveVolume(ctx, name, false); err != nil {
			o.logger.Warn("failed to remove volume", "volume", name, "error", err)
		}
	}
	return nil
}

// =============================================================================
// Status and Logs
// =============================================================================

// RefreshContainers returns the current container state of a stack.
func (o *Orchestrator) RefreshContainers(ctx context.Context, stack string) ([]ContainerSummary, error) {
	containers, err := o.docker.ListContainers(ctx, ListOptions{
		All:     true,
		Filters: map[string]string{"label": fmt.Sprintf("%s=%s", LabelStack, stack)},
	})
	if err != nil {
		return nil, err
	}

	var result []ContainerSummary
	for _, c := range containers {
		service := c.Labels[LabelService]
		if service == "" {
			parts := strings.Split(c.Name, "-")
			service = parts[len(parts)-1]
		}
		result = append(result, ContainerSummary{
			ID:      c.ID,
			Service: service,
			Image:   c.Image,
			Status:  string(c.Status),
			Ports:   c.Ports,
		})
	}
	return result, nil
}

// GetContainerLogs returns up to 64KB of recent logs from a container.
func (o *Orchestrator) GetContainerLogs(ctx context.Context, containerID string, tail string) (string, error) {
	reader, err := o.docker.ContainerLogs(ctx, containerID, LogOptions{
		Tail:       tail,
		Timestamps: true,
	})
	if err != nil {
		return "", err
	}
	defer reader.Close()

	buf := make([]byte, 64*1024)
	n, _ := reader.Read(buf)
	return string(buf[:n]), nil
}

// FindContainer returns the container of a stack service, if present.
func (o *Orchestrator) FindContainer(ctx context.Context, stack, service string) (*ContainerInfo, error) {
	containers, err := o.docker.ListContainers(ctx, ListOptions{
		All: true,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", LabelStack, stack),
		},
	})
	if err != nil {
		return nil, err
	}
	for _, c := range containers {
		if c.Labels[LabelService] == service {
			info := c
			return &info, nil
		}
	}
	return nil, NewDockerError("FindContainer", "container", service, "container not found", ErrContainerNotFound)
}

// =============================================================================
// Helpers
// =============================================================================

func (o *Orchestrator) ensureNetwork(ctx context.Context, name string, opts StackOptions) (string, error) {
	networkID, err := o.docker.CreateNetwork(ctx, NetworkSpec{
		Name:   name,
		Driver: "bridge",
		Labels: o.stackLabels(opts),
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			o.logger.Debug("network exists, reusing", "network", name)
			return name, nil
		}
		return "", err
	}
	return networkID, nil
}

func (o *Orchestrator) ensureVolume(ctx context.Context, name string, opts StackOptions) error {
	_, err := o.docker.CreateVolume(ctx, VolumeSpec{
		Name:   name,
		Labels: o.stackLabels(opts),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return err
	}
	return nil
}

func (o *Orchestrator) buildContainerSpec(svc compose.Service, opts StackOptions, networkName string) ContainerSpec {
	spec := ContainerSpec{
		Name:       ContainerName(opts.Name, svc.Name),
		Image:      compose.SubstituteValue(svc.Image, opts.Variables),
		Command:    svc.Command,
		Entrypoint: svc.Entrypoint,
		Env:        make(map[string]string),
		Labels:     o.stackLabels(opts),
		Networks:   []string{networkName},
	}
	spec.Labels[LabelService] = svc.Name
	if svc.Build != nil {
		spec.Image = ImageTag(opts.Name, svc.Name, opts.Release)
	}

	for k, v := range svc.Environment {
		spec.Env[k] = compose.SubstituteValue(v, opts.Variables)
	}

	for _, p := range svc.Ports {
		spec.Ports = append(spec.Ports, PortBinding{
			ContainerPort: int(p.Target),
			HostPort:      int(p.Published),
			Protocol:      p.Protocol,
			HostIP:        p.HostIP,
		})
	}

	for _, v := range svc.Volumes {
		source := v.Source
		if v.Type == compose.VolumeMountTypeVolume {
			source = StackVolumeName(opts.Name, v.Source)
		}
		spec.Volumes = append(spec.Volumes, VolumeMount{
			Source:   source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	if svc.HealthCheck != nil {
		spec.HealthCheck = &HealthCheck{
			Test:    svc.HealthCheck.Test,
			Retries: svc.HealthCheck.Retries,
		}
		if d, err := time.ParseDuration(svc.HealthCheck.Interval); err == nil {
			spec.HealthCheck.Interval = d
		}
		if d, err := time.ParseDuration(svc.HealthCheck.Timeout); err == nil {
			spec.HealthCheck.Timeout = d
		}
		if d, err := time.ParseDuration(svc.HealthCheck.StartPeriod); err == nil {
			spec.HealthCheck.StartPeriod = d
		}
	}

	switch svc.Restart {
	case compose.RestartAlways:
		spec.RestartPolicy = RestartPolicy{Name: "always"}
	case compose.RestartOnFailure:
		spec.RestartPolicy = RestartPolicy{Name: "on-failure"}
	case compose.RestartUnlessStopped:
		spec.RestartPolicy = RestartPolicy{Name: "unless-stopped"}
	default:
		spec.RestartPolicy = RestartPolicy{Name: "no"}
	}

	for k, v := range svc.Labels {
		spec.Labels[k] = v
	}
	return spec
}

func (o *Orchestrator) cleanupCreated(ctx context.Context, containers map[string]string) {
	timeout := 5 * time.Second
	for name, id := range containers {
		_ = o.docker.StopContainer(ctx, id, &timeout)
		_ = o.docker.RemoveContainer(ctx, id, RemoveOptions{Force: true})
		o.logger.Debug("cleaned up container", "service", name, "container_id", shortID(id))
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
