// Package reloader applies a new certificate to a running service without
// dropping connections: verify material, render config, validate it with the
// service's own checker, reload (not restart), and confirm liveness before
// recording the binding.
package reloader

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/edvin/certkeeper/internal/model"
)

// ManagedService is the four-operation contract every reloadable service
// exposes: config render, config validate, reload, and a liveness probe. The
// reloader is written against this contract, not any service's internals.
type ManagedService interface {
	Name() string
	Domains() []string
	TLSEnabled() bool
	Render(ctx context.Context, domain string, cert *model.Certificate) error
	Validate(ctx context.Context) error
	Reload(ctx context.Context) error
	Probe(ctx context.Context) error
}

// ServiceSpec is one managed service definition from services.yaml.
type ServiceSpec struct {
	Name            string        `yaml:"name"`
	Domains         []string      `yaml:"domains"`
	TLS             bool          `yaml:"tls"`
	RenderCommand   []string      `yaml:"render_command"`
	ValidateCommand []string      `yaml:"validate_command"`
	ReloadCommand   []string      `yaml:"reload_command"`
	LivenessAddr    string        `yaml:"liveness_addr"`
	LivenessPorts   []int         `yaml:"liveness_ports"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
}

type servicesFile struct {
	Services []ServiceSpec `yaml:"services"`
}

// LoadServices reads managed service definitions from a YAML file.
func LoadServices(path string) ([]ServiceSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read services file: %w", err)
	}

	var f servicesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse services file %s: %w", path, err)
	}

	for i, s := range f.Services {
		if s.Name == "" {
			return nil, fmt.Errorf("services[%d]: name is required", i)
		}
		if len(s.Domains) == 0 {
			return nil, fmt.Errorf("service %s: at least one domain is required", s.Name)
		}
		if len(s.ValidateCommand) == 0 || len(s.ReloadCommand) == 0 {
			return nil, fmt.Errorf("service %s: validate_command and reload_command are required", s.Name)
		}
	}
	return f.Services, nil
}

// ExecService implements ManagedService by running the spec's commands.
// Certificate paths are substituted into render command arguments via the
// {domain}, {cert}, {key}, {chain}, and {fullchain} placeholders.
type ExecService struct {
	spec ServiceSpec
}

func NewExecService(spec ServiceSpec) *ExecService {
	if spec.ProbeTimeout <= 0 {
		spec.ProbeTimeout = 5 * time.Second
	}
	if spec.LivenessAddr == "" {
		spec.LivenessAddr = "127.0.0.1"
	}
	return &ExecService{spec: spec}
}

func (s *ExecService) Name() string      { return s.spec.Name }
func (s *ExecService) Domains() []string { return s.spec.Domains }
func (s *ExecService) TLSEnabled() bool  { return s.spec.TLS }

func (s *ExecService) Render(ctx context.Context, domain string, cert *model.Certificate) error {
	if len(s.spec.RenderCommand) == 0 {
		// Services whose config references stable paths need no render step.
		return nil
	}
	replacer := strings.NewReplacer(
		"{domain}", domain,
		"{cert}", cert.CertificatePath,
		"{key}", cert.PrivateKeyPath,
		"{chain}", cert.ChainPath,
		"{fullchain}", cert.FullChainPath,
	)
	args := make([]string, len(s.spec.RenderCommand))
	for i, a := range s.spec.RenderCommand {
		args[i] = replacer.Replace(a)
	}
	return s.run(ctx, args)
}

func (s *ExecService) Validate(ctx context.Context) error {
	return s.run(ctx, s.spec.ValidateCommand)
}

func (s *ExecService) Reload(ctx context.Context) error {
	return s.run(ctx, s.spec.ReloadCommand)
}

// Probe confirms the service is still accepting connections on its ports.
func (s *ExecService) Probe(ctx context.Context) error {
	dialer := net.Dialer{Timeout: s.spec.ProbeTimeout}
	for _, port := range s.spec.LivenessPorts {
		addr := net.JoinHostPort(s.spec.LivenessAddr, fmt.Sprintf("%d", port))
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("service %s not accepting connections on %s: %w", s.spec.Name, addr, err)
		}
		conn.Close()
	}
	return nil
}

func (s *ExecService) run(ctx context.Context, argv []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", strings.Join(argv, " "), err, strings.TrimSpace(string(output)))
	}
	return nil
}
