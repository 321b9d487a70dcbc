package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devinsight/devinsight/internal/client"
)

const (
	envServer = "DEVINSIGHT_SERVER"

	defaultServer = "http://localhost:8080"

	outputTable = "table"
	outputJSON  = "json"
)

// Config is the CLI configuration file.
type Config struct {
	Server  string `yaml:"server_url"`
	Timeout string `yaml:"timeout,omitempty"`
	Output  string `yaml:"output"`
	State   string `yaml:"state,omitempty"`
}

func homePath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".devinsight", name)
}

// DefaultConfigPath returns ~/.devinsight/config.yaml.
func DefaultConfigPath() string {
	return homePath("config.yaml")
}

// DefaultStatePath returns ~/.devinsight/state.db, the bbolt file holding
// the session.
func DefaultStatePath() string {
	return homePath("state.db")
}

// RequestTimeout parses Timeout, falling back to the client default.
func (c *Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return client.DefaultTimeout
	}
	return d
}

// LoadConfig reads path. A missing file yields the defaults. The
// DEVINSIGHT_SERVER environment variable overrides the file.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	if v := strings.TrimSpace(os.Getenv(envServer)); v != "" {
		cfg.Server = v
	}
	if cfg.Server == "" {
		cfg.Server = defaultServer
	}
	if cfg.Output == "" {
		cfg.Output = outputTable
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.Output {
	case outputTable, outputJSON:
	default:
		return fmt.Errorf("invalid output format %q (want table or json)", c.Output)
	}
	if c.Timeout != "" {
		if d, err := time.ParseDuration(c.Timeout); err != nil || d <= 0 {
			return fmt.Errorf("invalid timeout %q: want a positive duration such as 30s", c.Timeout)
		}
	}
	if !strings.HasPrefix(c.Server, "http://") && !strings.HasPrefix(c.Server, "https://") {
		return fmt.Errorf("invalid server %q: must start with http:// or https://", c.Server)
	}
	return nil
}

// Save writes the config to path, creating its directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
