package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/seslattery/hostgate/internal/config"
	"github.com/seslattery/hostgate/internal/logging"
)

var (
	cfgFile  string
	envFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "hostgate",
	Short: "Host header allow-list gate",
	Long: `Hostgate rejects HTTP requests whose Host header is not on a configured
allow-list, protecting servers against Host header cache poisoning,
virtual host confusion and DNS rebinding.

Example:
  hostgate serve --config ./hostgate.yaml
  hostgate check --allow '*.example.com' api.example.com example.com`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile == "" {
			return nil
		}
		err := config.LoadEnvFile(envFile)
		if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("env-file") {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.hostgate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with HOSTGATE_* overrides")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// loadConfig reads the config file and applies the --log-level flag.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func setupLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	return logging.Setup(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
}
