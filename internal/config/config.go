// Package config handles loading and validation of hostgate configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the config file.
const (
	EnvAllowedHosts          = "HOSTGATE_ALLOWED_HOSTS"
	EnvAllowEmptyHosts       = "HOSTGATE_ALLOW_EMPTY_HOSTS"
	EnvIncludeFailureMessage = "HOSTGATE_INCLUDE_FAILURE_MESSAGE"
	EnvUpstream              = "HOSTGATE_UPSTREAM"
	EnvLogLevel              = "HOSTGATE_LOG_LEVEL"
)

// Config is the top-level configuration structure.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Proxy   ProxyConfig   `yaml:"proxy"`
	Hosts   HostsConfig   `yaml:"hosts"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig defines the gated HTTP server.
type ServerConfig struct {
	Listen      []string `yaml:"listen"`
	Upstream    string   `yaml:"upstream"`     // Reverse proxy target; empty serves a plain handler
	ExemptPaths []string `yaml:"exempt_paths"` // Paths served without host filtering
}

// ProxyConfig defines the gated forward proxy.
type ProxyConfig struct {
	Listen string `yaml:"listen"`
}

// HostsConfig defines the host allow-list.
type HostsConfig struct {
	// Allowed holds host patterns: "example.com", "*.example.com", "[::1]"
	// or "*". When empty, the server's bound addresses are used.
	Allowed []string `yaml:"allowed"`
	// AllowEmptyHosts admits requests with a missing or empty Host header.
	AllowEmptyHosts bool `yaml:"allow_empty_hosts"`
	// IncludeFailureMessage adds a generic body to rejection responses.
	IncludeFailureMessage bool `yaml:"include_failure_message"`
}

// LoggingConfig defines log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, text or json
	File   string `yaml:"file"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: []string{"127.0.0.1:8080"},
		},
		Proxy: ProxyConfig{
			Listen: "127.0.0.1:3128",
		},
		Hosts: HostsConfig{
			AllowEmptyHosts:       true,
			IncludeFailureMessage: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// DefaultPath returns the default config file path.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".hostgate", "config.yaml"), nil
}

// Load reads and parses the config file, then applies environment overrides.
// A missing file at the default path yields the defaults; a missing file at
// an explicit path is an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("applying environment to %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadEnvFile loads variables from a dotenv file into the process
// environment. Variables that are already set are left alone.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvAllowedHosts); v != "" {
		c.Hosts.Allowed = SplitHosts(v)
	}
	if v := getenv(EnvAllowEmptyHosts); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAllowEmptyHosts, err)
		}
		c.Hosts.AllowEmptyHosts = b
	}
	if v := getenv(EnvIncludeFailureMessage); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvIncludeFailureMessage, err)
		}
		c.Hosts.IncludeFailureMessage = b
	}
	if v := getenv(EnvUpstream); v != "" {
		c.Server.Upstream = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// SplitHosts splits a ';' or ',' separated host list, dropping blanks.
func SplitHosts(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' })
	hosts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			hosts = append(hosts, f)
		}
	}
	return hosts
}

// Validate checks the configuration for errors. An empty allow-list is
// valid here; it is resolved against the server's addresses at startup.
func (c *Config) Validate() error {
	if len(c.Server.Listen) == 0 {
		return fmt.Errorf("server.listen cannot be empty")
	}
	for _, addr := range c.Server.Listen {
		if strings.TrimSpace(addr) == "" {
			return fmt.Errorf("server.listen contains an empty address")
		}
	}

	if c.Server.Upstream != "" {
		u, err := url.Parse(c.Server.Upstream)
		if err != nil {
			return fmt.Errorf("server.upstream: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("server.upstream must be an absolute http(s) URL: %q", c.Server.Upstream)
		}
	}

	for _, h := range c.Hosts.Allowed {
		if strings.Contains(h, "://") {
			return fmt.Errorf("hosts.allowed entry %q must not contain a scheme", h)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}
