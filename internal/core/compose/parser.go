package compose

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// Parse turns compose YAML into a Spec. It is a pure function: raw YAML in,
// Spec or error out. Secrets, configs, and extends are rejected since none of
// the stack's compose files use them and supporting them would mean resolving
// external files during parse.
func Parse(yamlContent string) (*Spec, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyInput
	}

	project, err := loadProject(yamlContent)
	if err != nil {
		return nil, err
	}
	if err := rejectUnsupported(project); err != nil {
		return nil, err
	}
	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	spec := &Spec{
		Services: make([]Service, 0, len(project.Services)),
		Networks: make([]Network, 0, len(project.Networks)),
		Volumes:  make([]Volume, 0, len(project.Volumes)),
	}
	for _, sc := range project.Services {
		svc, err := convertService(sc)
		if err != nil {
			return nil, err
		}
		spec.Services = append(spec.Services, svc)
	}
	if err := checkDependencyCycles(spec.Services); err != nil {
		return nil, err
	}

	for name, net := range project.Networks {
		spec.Networks = append(spec.Networks, Network{
			Name:       name,
			Driver:     net.Driver,
			External:   bool(net.External),
			Internal:   net.Internal,
			Attachable: net.Attachable,
			Labels:     net.Labels,
		})
	}
	for name, vol := range project.Volumes {
		spec.Volumes = append(spec.Volumes, Volume{
			Name:     name,
			Driver:   vol.Driver,
			External: bool(vol.External),
			Labels:   vol.Labels,
		})
	}
	return spec, nil
}

func loadProject(yamlContent string) (*types.Project, error) {
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(yamlContent), &raw); err != nil || raw == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	details := types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{{Content: []byte(yamlContent), Config: raw}},
	}
	project, err := loader.LoadWithContext(context.Background(), details, func(opts *loader.Options) {
		opts.SetProjectName("convoy-env", false)
		opts.SkipValidation = false
		opts.SkipInterpolation = false
		// In-memory parse: no path resolution, no external files.
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "dependency cycle detected"):
			return nil, NewParseError("", "circular dependency detected", ErrCircularDependency)
		case strings.Contains(msg, "image") && strings.Contains(msg, "build"):
			return nil, NewParseError("", "service must have image or build", ErrServiceNoImage)
		}
		return nil, NewParseError("", msg, ErrInvalidYAML)
	}
	return project, nil
}

func rejectUnsupported(project *types.Project) error {
	if len(project.Secrets) > 0 {
		return NewParseError("secrets", "secrets are not supported", ErrUnsupportedFeature)
	}
	if len(project.Configs) > 0 {
		return NewParseError("configs", "configs are not supported", ErrUnsupportedFeature)
	}
	for _, sc := range project.Services {
		if sc.Extends != nil && sc.Extends.File != "" {
			return NewParseError("services."+sc.Name+".extends", "extends is not supported", ErrUnsupportedFeature)
		}
	}
	return nil
}

func convertService(sc types.ServiceConfig) (Service, error) {
	svc := Service{
		Name:        sc.Name,
		Image:       sc.Image,
		Command:     sc.Command,
		Entrypoint:  sc.Entrypoint,
		Restart:     RestartPolicy(sc.Restart),
		Environment: make(map[string]string),
		Labels:      make(map[string]string),
		Networks:    make([]string, 0),
		DependsOn:   make([]string, 0),
	}

	if sc.Build != nil {
		svc.Build = &BuildConfig{
			Context:    sc.Build.Context,
			Dockerfile: sc.Build.Dockerfile,
		}
	}
	if svc.Image == "" && svc.Build == nil {
		return Service{}, NewParseError("services."+sc.Name, "service must have image or build", ErrServiceNoImage)
	}

	ports, err := convertPorts(sc)
	if err != nil {
		return Service{}, err
	}
	svc.Ports = ports

	for k, v := range sc.Environment {
		if v != nil {
			svc.Environment[k] = *v
		}
	}
	for k, v := range sc.Labels {
		svc.Labels[k] = v
	}
	for net := range sc.Networks {
		svc.Networks = append(svc.Networks, net)
	}
	for dep := range sc.DependsOn {
		svc.DependsOn = append(svc.DependsOn, dep)
	}
	for _, v := range sc.Volumes {
		svc.Volumes = append(svc.Volumes, convertMount(v))
	}
	svc.HealthCheck = convertHealthCheck(sc.HealthCheck)

	return svc, nil
}

func convertPorts(sc types.ServiceConfig) ([]Port, error) {
	ports := make([]Port, 0, len(sc.Ports))
	for i, p := range sc.Ports {
		field := fmt.Sprintf("services.%s.ports[%d]", sc.Name, i)
		if p.Target == 0 {
			return nil, NewParseError(field, "target port cannot be 0", ErrServiceInvalidPort)
		}
		if p.Target > 65535 {
			return nil, NewParseError(field, "target port must be <= 65535", ErrServiceInvalidPort)
		}
		var published uint32
		if p.Published != "" {
			pub, err := strconv.ParseUint(p.Published, 10, 32)
			if err != nil || pub > 65535 {
				return nil, NewParseError(field, "published port must be <= 65535", ErrServiceInvalidPort)
			}
			published = uint32(pub)
		}
		ports = append(ports, Port{
			Target:    p.Target,
			Published: published,
			Protocol:  p.Protocol,
			HostIP:    p.HostIP,
		})
	}
	return ports, nil
}

func convertMount(v types.ServiceVolumeConfig) VolumeMount {
	mount := VolumeMount{
		Source:   v.Source,
		Target:   v.Target,
		ReadOnly: v.ReadOnly,
	}
	switch v.Type {
	case "bind":
		mount.Type = VolumeMountTypeBind
	case "volume":
		mount.Type = VolumeMountTypeVolume
	case "tmpfs":
		mount.Type = VolumeMountTypeTmpfs
	default:
		// Untyped short syntax: a path-looking source is a bind mount.
		if strings.HasPrefix(v.Source, "./") || strings.HasPrefix(v.Source, "/") || strings.HasPrefix(v.Source, "~") {
			mount.Type = VolumeMountTypeBind
		} else {
			mount.Type = VolumeMountTypeVolume
		}
	}
	return mount
}

func convertHealthCheck(hc *types.HealthCheckConfig) *HealthCheck {
	if hc == nil || hc.Disable {
		return nil
	}
	out := &HealthCheck{Test: hc.Test}
	if hc.Retries != nil {
		out.Retries = int(*hc.Retries)
	}
	if hc.Interval != nil {
		out.Interval = hc.Interval.String()
	}
	if hc.Timeout != nil {
		out.Timeout = hc.Timeout.String()
	}
	if hc.StartPeriod != nil {
		out.StartPeriod = hc.StartPeriod.String()
	}
	return out
}

// checkDependencyCycles walks depends_on edges with an explicit stack, since
// the loader only catches cycles when normalization is on.
func checkDependencyCycles(services []Service) error {
	deps := make(map[string][]string, len(services))
	for _, svc := range services {
		deps[svc.Name] = svc.DependsOn
	}

	const (
		white = iota // unvisited
		grey         // on the current path
		black        // fully explored
	)
	color := make(map[string]int, len(deps))

	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = grey
		for _, dep := range deps[name] {
			switch color[dep] {
			case grey:
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		color[name] = black
		return false
	}

	for _, svc := range services {
		if color[svc.Name] == white && visit(svc.Name) {
			return ErrCircularDependency
		}
	}
	return nil
}
