package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/seslattery/hostgate/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long: `Creates a default configuration file at ~/.hostgate/config.yaml, or at the
path given by --config.

The default config allows only localhost. Leave hosts.allowed empty to allow
the addresses the server binds to, or use "*" to disable host filtering.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config")
	rootCmd.AddCommand(initCmd)
}

const defaultConfig = `# hostgate configuration

server:
  listen:
    - "127.0.0.1:8080"
  # Reverse proxy target for allowed requests.
  # upstream: "http://127.0.0.1:3000"
  # Paths served without host filtering.
  # exempt_paths:
  #   - /healthz

proxy:
  listen: "127.0.0.1:3128"

hosts:
  # Exact hosts, "*.domain" for subdomains (not the domain itself),
  # bracketed IPv6 literals, or "*" for any host. Never include a port.
  allowed:
    - "localhost"
    - "127.0.0.1"
    - "[::1]"
    # - "example.com"
    # - "*.example.com"

  # HTTP/1.0 clients omit the Host header.
  allow_empty_hosts: true

  # Send a short HTML explanation with 400 responses.
  include_failure_message: true

logging:
  level: info
  format: auto   # auto, text or json
  # file: /var/log/hostgate.log
`

func runInit(cmd *cobra.Command, args []string) error {
	configPath := cfgFile
	if configPath == "" {
		var err error
		configPath, err = config.DefaultPath()
		if err != nil {
			return fmt.Errorf("getting default config path: %w", err)
		}
	}

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config at %s\n", configPath)
	return nil
}
