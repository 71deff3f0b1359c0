// Package config loads and validates crucible configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"crucible/pkg/logger"
)

// Config is the root configuration structure.
type Config struct {
	Version   string          `mapstructure:"version" yaml:"version"`
	Log       logger.Config   `mapstructure:"log" yaml:"log"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Capture   CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	Executor  ExecutorConfig  `mapstructure:"executor" yaml:"executor"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox" yaml:"sandbox"`
	Gateway   GatewayConfig   `mapstructure:"gateway" yaml:"gateway"`
	Retention RetentionConfig `mapstructure:"retention" yaml:"retention"`
	Eval      EvalConfig      `mapstructure:"eval" yaml:"eval"`
}

// StorageConfig configures the SQLite database.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// CaptureConfig configures the output capture channel.
type CaptureConfig struct {
	// Dir is where durable output sinks are written.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// DrainGrace bounds how long drain confirmation may take after the
	// command exits. It is independent of the execution timeout.
	DrainGrace time.Duration `mapstructure:"drain_grace" yaml:"drain_grace"`
}

// ExecutorConfig configures command execution.
type ExecutorConfig struct {
	Shell          string        `mapstructure:"shell" yaml:"shell"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	// PollInterval is the liveness probe interval for detached executions.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// SandboxConfig configures the local sandbox backend.
type SandboxConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
}

// GatewayConfig configures the HTTP/WebSocket gateway.
type GatewayConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// RetentionConfig configures the scheduled run-history sweep.
type RetentionConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Schedule string `mapstructure:"schedule" yaml:"schedule"`
	MaxAge   string `mapstructure:"max_age" yaml:"max_age"`
}

// MaxAgeDuration parses MaxAge, defaulting to 7 days.
func (c *RetentionConfig) MaxAgeDuration() time.Duration {
	d, err := time.ParseDuration(c.MaxAge)
	if err != nil || d <= 0 {
		return 7 * 24 * time.Hour
	}
	return d
}

// EvalConfig configures the evaluation harness.
type EvalConfig struct {
	Parallel    int           `mapstructure:"parallel" yaml:"parallel"`
	TestTimeout time.Duration `mapstructure:"test_timeout" yaml:"test_timeout"`
	AgentConfig string        `mapstructure:"agent_config" yaml:"agent_config"`
	ResultFile  string        `mapstructure:"result_file" yaml:"result_file"`
}

var (
	mu           sync.RWMutex
	globalConfig *Config
	configPath   string
)

// Load reads configuration from path, applying defaults and CRUCIBLE_*
// environment overrides. A missing config file is not an error.
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	setDefaults()

	viper.SetEnvPrefix("CRUCIBLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		configPath = expanded

		viper.SetConfigFile(expanded)
		if err := viper.ReadInConfig(); err != nil {
			var parseErr viper.ConfigParseError
			if errors.As(err, &parseErr) {
				return nil, fmt.Errorf("parse config %s: %w", expanded, err)
			}
			if !os.IsNotExist(err) {
				var pathErr *os.PathError
				if !errors.As(err, &pathErr) {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Reload re-reads the previously loaded config file.
func Reload() (*Config, error) {
	mu.RLock()
	path := configPath
	mu.RUnlock()
	return Load(path)
}

// GetConfig returns the currently loaded configuration, or nil if Load
// has not been called.
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// Path returns the path of the loaded config file.
func Path() string {
	mu.RLock()
	defer mu.RUnlock()
	return configPath
}
