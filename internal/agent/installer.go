// Package agent installs an evaluation agent into a sandbox from a YAML
// config: upload files, run install commands, and verify the installed
// version against a semver constraint.
package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"crucible/internal/sandbox"
)

// FileSpec maps a local file onto a sandbox path.
type FileSpec struct {
	Local   string `yaml:"local"`
	Sandbox string `yaml:"sandbox"`
}

// Config describes an installable agent.
type Config struct {
	Name string `yaml:"name"`
	// Version constrains an already-installed agent, e.g. ">= 0.10.0".
	// Empty accepts any.
	Version string `yaml:"version"`
	// VersionCommand prints the installed version; empty skips the check.
	VersionCommand string        `yaml:"version_command"`
	Commands       []string      `yaml:"commands"`
	Files          []FileSpec    `yaml:"files"`
	Session        string        `yaml:"session"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// LoadConfig reads an agent config from a YAML file. File paths in the
// config resolve relative to the config file's directory.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse agent config: %w", err)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent config %s: name is required", path)
	}
	if cfg.Version != "" {
		if _, err := semver.NewConstraint(cfg.Version); err != nil {
			return nil, fmt.Errorf("agent config %s: invalid version constraint %q: %w", path, cfg.Version, err)
		}
	}

	base := filepath.Dir(path)
	for i, f := range cfg.Files {
		if !filepath.IsAbs(f.Local) {
			cfg.Files[i].Local = filepath.Join(base, f.Local)
		}
	}
	return &cfg, nil
}

// Installer installs agents into sandboxes.
type Installer struct {
	logger zerolog.Logger
}

// NewInstaller creates an installer.
func NewInstaller(logger zerolog.Logger) *Installer {
	return &Installer{logger: logger}
}

// Install uploads the agent's files and runs its install commands inside
// sb. If the agent already satisfies the version constraint the install
// commands are skipped.
func (in *Installer) Install(ctx context.Context, sb sandbox.Sandbox, cfg *Config) error {
	if ok, version := in.satisfied(ctx, sb, cfg); ok {
		in.logger.Info().
			Str("agent", cfg.Name).
			Str("version", version).
			Msg("agent already installed")
		return nil
	}

	for _, f := range cfg.Files {
		if err := sb.UploadFile(f.Local, f.Sandbox); err != nil {
			return fmt.Errorf("upload %s: %w", f.Local, err)
		}
	}

	opts := sandbox.RunOpts{Session: cfg.Session, Timeout: cfg.CommandTimeout}
	for _, command := range cfg.Commands {
		obs, err := sb.Run(ctx, command, opts)
		if err != nil {
			return fmt.Errorf("install command %q: %w", command, err)
		}
		if obs.ExitCode != 0 {
			return fmt.Errorf("install command %q exited %d: %s", command, obs.ExitCode, obs.Output)
		}
	}

	if cfg.VersionCommand != "" && cfg.Version != "" {
		if ok, version := in.satisfied(ctx, sb, cfg); !ok {
			return fmt.Errorf("agent %s: installed version %q does not satisfy %q", cfg.Name, version, cfg.Version)
		}
	}

	in.logger.Info().Str("agent", cfg.Name).Msg("agent installed")
	return nil
}

// satisfied probes the installed version and checks it against the
// constraint. Returns the probed version string for logging.
func (in *Installer) satisfied(ctx context.Context, sb sandbox.Sandbox, cfg *Config) (bool, string) {
	if cfg.VersionCommand == "" || cfg.Version == "" {
		return false, ""
	}
	obs, err := sb.Run(ctx, cfg.VersionCommand, sandbox.RunOpts{Session: cfg.Session, Timeout: cfg.CommandTimeout})
	if err != nil || obs.ExitCode != 0 {
		return false, ""
	}

	raw := strings.TrimSpace(string(obs.Output))
	version, err := semver.NewVersion(raw)
	if err != nil {
		return false, raw
	}
	constraint, err := semver.NewConstraint(cfg.Version)
	if err != nil {
		return false, raw
	}
	return constraint.Check(version), raw
}
