package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"
)

// Service roles understood by the session engine.
const (
	RoleForeground = "foreground"
	RoleSidecar    = "sidecar"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Manifest mirrors the atlas.yaml document structure.
type Manifest struct {
	Version  string                  `yaml:"version"`
	Session  SessionMeta             `yaml:"session"`
	Defaults Defaults                `yaml:"defaults"`
	Services map[string]*ServiceSpec `yaml:"services"`
}

// SessionMeta contains metadata shared by every service in the session.
type SessionMeta struct {
	Name    string `yaml:"name"`
	Workdir string `yaml:"workdir"`
	// EnvFile names an optional key=value file merged into every service's
	// environment. A missing file is not an error.
	EnvFile string `yaml:"envFile"`
}

// Defaults captures default policies applied to services.
type Defaults struct {
	Health          *ProbeSpec `yaml:"health"`
	StopGracePeriod Duration   `yaml:"stopGracePeriod"`
}

// ServiceSpec describes an individual service in the session.
type ServiceSpec struct {
	Role            string            `yaml:"role"`
	Command         []string          `yaml:"command"`
	Env             map[string]string `yaml:"env"`
	EnvFromFile     string            `yaml:"envFromFile"`
	Ports           []string          `yaml:"ports"`
	Warmup          Duration          `yaml:"warmup"`
	StopGracePeriod Duration          `yaml:"stopGracePeriod"`
	Health          *ProbeSpec        `yaml:"health"`
	ResolvedWorkdir string            `yaml:"-"`
}

// ProbeSpec configures readiness probes for a sidecar.
type ProbeSpec struct {
	GracePeriod      Duration       `yaml:"gracePeriod"`
	Interval         Duration       `yaml:"interval"`
	Timeout          Duration       `yaml:"timeout"`
	FailureThreshold int            `yaml:"failureThreshold"`
	SuccessThreshold int            `yaml:"successThreshold"`
	HTTP             *HTTPProbeSpec `yaml:"http"`
	TCP              *TCPProbeSpec  `yaml:"tcp"`
	Command          *CommandProbe  `yaml:"cmd"`
}

// HTTPProbeSpec defines an HTTP probe.
type HTTPProbeSpec struct {
	URL          string `yaml:"url"`
	ExpectStatus []int  `yaml:"expectStatus"`
}

// TCPProbeSpec defines a TCP probe.
type TCPProbeSpec struct {
	Address string `yaml:"address"`
}

// CommandProbe defines a command probe.
type CommandProbe struct {
	Command []string `yaml:"command"`
	Timeout Duration `yaml:"timeout"`
}

var serviceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ApplyDefaults merges session defaults onto services.
func (m *Manifest) ApplyDefaults() error {
	for name, svc := range m.Services {
		if svc == nil {
			return fmt.Errorf("service %q is null", name)
		}
		svc.Role = strings.ToLower(strings.TrimSpace(svc.Role))
		if svc.Role == "" {
			svc.Role = RoleSidecar
		}
		if !svc.StopGracePeriod.IsSet() {
			svc.StopGracePeriod = m.Defaults.StopGracePeriod
		}
		if m.Defaults.Health != nil && svc.Role == RoleSidecar {
			if svc.Health == nil {
				if !svc.Warmup.IsSet() {
					svc.Health = m.Defaults.Health.Clone()
				}
			} else {
				svc.Health.ApplyDefaults(m.Defaults.Health)
			}
		}
	}
	return nil
}

// Validate enforces schema invariants.
func (m *Manifest) Validate() error {
	if m.Version == "" {
		return fmt.Errorf("%s: is required", fieldPath("version"))
	}
	if m.Session.Name == "" {
		return fmt.Errorf("%s: is required", fieldPath("session", "name"))
	}
	if len(m.Services) == 0 {
		return fmt.Errorf("%s: must define at least one service", fieldPath("services"))
	}

	foreground := 0
	for name, svc := range m.Services {
		if !serviceNamePattern.MatchString(name) {
			return fmt.Errorf("%s: invalid service name %q", fieldPath("services"), name)
		}
		switch svc.Role {
		case RoleForeground:
			foreground++
		case RoleSidecar:
		default:
			return fmt.Errorf("%s: invalid value %q (expected one of: foreground, sidecar)", serviceField(name, "role"), svc.Role)
		}
		if len(svc.Command) == 0 {
			return fmt.Errorf("%s: must contain at least one entry", serviceField(name, "command"))
		}
		if svc.Role == RoleForeground {
			if svc.Health != nil {
				return fmt.Errorf("%s: not supported for the foreground service", serviceField(name, "health"))
			}
			if svc.Warmup.IsSet() {
				return fmt.Errorf("%s: not supported for the foreground service", serviceField(name, "warmup"))
			}
		}
		if svc.Health != nil && svc.Warmup.IsSet() {
			return fmt.Errorf("%s: health and warmup are mutually exclusive", serviceField(name))
		}
		if svc.Warmup.IsSet() && svc.Warmup.Duration < 0 {
			return fmt.Errorf("%s: must be non-negative", serviceField(name, "warmup"))
		}
		if svc.StopGracePeriod.IsSet() && svc.StopGracePeriod.Duration < 0 {
			return fmt.Errorf("%s: must be non-negative", serviceField(name, "stopGracePeriod"))
		}
		if svc.Health != nil {
			if err := validateProbe(name, svc.Health); err != nil {
				return err
			}
		}
		for i, port := range svc.Ports {
			if err := validatePort(port); err != nil {
				return fmt.Errorf("%s: %w", serviceField(name, fmt.Sprintf("ports[%d]", i)), err)
			}
		}
	}
	if foreground != 1 {
		return fmt.Errorf("%s: exactly one service must declare role %q (found %d)", fieldPath("services"), RoleForeground, foreground)
	}
	return nil
}

func validateProbe(name string, p *ProbeSpec) error {
	probes := 0
	if p.HTTP != nil {
		probes++
		if p.HTTP.URL == "" {
			return fmt.Errorf("%s: is required", probeField(name, "http", "url"))
		}
	}
	if p.TCP != nil {
		probes++
		if p.TCP.Address == "" {
			return fmt.Errorf("%s: is required", probeField(name, "tcp", "address"))
		}
	}
	if p.Command != nil {
		probes++
		if len(p.Command.Command) == 0 {
			return fmt.Errorf("%s: must contain at least one entry", probeField(name, "cmd", "command"))
		}
	}
	if probes == 0 {
		return fmt.Errorf("%s: probe configuration is required", probeField(name))
	}
	if probes > 1 {
		return fmt.Errorf("%s: exactly one probe type may be configured", probeField(name))
	}
	if p.FailureThreshold == 0 {
		p.FailureThreshold = 3
	}
	if p.Interval.Duration == 0 {
		p.Interval.Duration = 2 * time.Second
	}
	if p.Timeout.Duration == 0 {
		p.Timeout.Duration = time.Second
	}
	if p.SuccessThreshold == 0 {
		p.SuccessThreshold = 1
	}
	if p.Command != nil && p.Command.Timeout.Duration == 0 {
		p.Command.Timeout = p.Timeout
	}
	return nil
}

func validatePort(spec string) error {
	mappings, err := nat.ParsePortSpec(spec)
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", spec, err)
	}
	if len(mappings) == 0 {
		return fmt.Errorf("invalid port %q: no port definitions found", spec)
	}
	for _, mapping := range mappings {
		start, end, err := mapping.Port.Range()
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", spec, err)
		}
		if start == 0 || end == 0 {
			return fmt.Errorf("invalid port %q: port must be in range 1-65535", spec)
		}
	}
	return nil
}

// ApplyDefaults merges values from the provided defaults onto the receiver.
func (p *ProbeSpec) ApplyDefaults(defaults *ProbeSpec) {
	if defaults == nil {
		return
	}
	hasType := p.HTTP != nil || p.TCP != nil || p.Command != nil
	if !hasType {
		if defaults.HTTP != nil {
			p.HTTP = &HTTPProbeSpec{
				URL:          defaults.HTTP.URL,
				ExpectStatus: append([]int(nil), defaults.HTTP.ExpectStatus...),
			}
		}
		if defaults.TCP != nil {
			p.TCP = &TCPProbeSpec{Address: defaults.TCP.Address}
		}
		if defaults.Command != nil {
			p.Command = &CommandProbe{
				Command: append([]string(nil), defaults.Command.Command...),
				Timeout: defaults.Command.Timeout,
			}
		}
	}
	if !p.GracePeriod.IsSet() {
		p.GracePeriod = defaults.GracePeriod
	}
	if p.Interval.Duration == 0 {
		p.Interval = defaults.Interval
	}
	if p.Timeout.Duration == 0 {
		p.Timeout = defaults.Timeout
	}
	if p.FailureThreshold == 0 {
		p.FailureThreshold = defaults.FailureThreshold
	}
	if p.SuccessThreshold == 0 {
		p.SuccessThreshold = defaults.SuccessThreshold
	}
	if p.Command != nil && defaults.Command != nil {
		if p.Command.Timeout.Duration == 0 {
			p.Command.Timeout = defaults.Command.Timeout
		}
	}
}

// Clone creates a deep copy of the service.
func (s *ServiceSpec) Clone() *ServiceSpec {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Env != nil {
		cp.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			cp.Env[k] = v
		}
	}
	if s.Command != nil {
		cp.Command = append([]string(nil), s.Command...)
	}
	if s.Ports != nil {
		cp.Ports = append([]string(nil), s.Ports...)
	}
	if s.Health != nil {
		cp.Health = s.Health.Clone()
	}
	return &cp
}

// Clone creates a deep copy of the probe configuration.
func (p *ProbeSpec) Clone() *ProbeSpec {
	if p == nil {
		return nil
	}
	cp := *p
	if p.HTTP != nil {
		cp.HTTP = &HTTPProbeSpec{
			URL:          p.HTTP.URL,
			ExpectStatus: append([]int(nil), p.HTTP.ExpectStatus...),
		}
	}
	if p.TCP != nil {
		cp.TCP = &TCPProbeSpec{Address: p.TCP.Address}
	}
	if p.Command != nil {
		cp.Command = &CommandProbe{
			Command: append([]string(nil), p.Command.Command...),
			Timeout: p.Command.Timeout,
		}
	}
	return &cp
}

// Foreground returns the name and spec of the session's foreground service.
func (m *Manifest) Foreground() (string, *ServiceSpec) {
	for name, svc := range m.Services {
		if svc != nil && svc.Role == RoleForeground {
			return name, svc
		}
	}
	return "", nil
}

// Sidecars returns sidecar service names sorted alphabetically. Startup
// follows this order; teardown runs it in reverse.
func (m *Manifest) Sidecars() []string {
	out := make([]string, 0, len(m.Services))
	for name, svc := range m.Services {
		if svc != nil && svc.Role == RoleSidecar {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func fieldPath(parts ...string) string {
	return strings.Join(parts, ".")
}

func serviceField(service string, parts ...string) string {
	pathParts := append([]string{"services", service}, parts...)
	return fieldPath(pathParts...)
}

func probeField(service string, parts ...string) string {
	pathParts := append([]string{"health"}, parts...)
	return serviceField(service, pathParts...)
}
