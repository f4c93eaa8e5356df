package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seslattery/hostgate/internal/allowlist"
	"github.com/seslattery/hostgate/internal/policy"
	"github.com/seslattery/hostgate/internal/proxy"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Run a forward proxy that only reaches allowed hosts",
	Long: `Runs an HTTP/HTTPS forward proxy on proxy.listen. Proxied requests and
CONNECT tunnels are only forwarded when the target host is on hosts.allowed.`,
	Args: cobra.NoArgs,
	RunE: runProxy,
}

func init() {
	rootCmd.AddCommand(proxyCmd)
}

func runProxy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, cleanup, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// A forward proxy has no bound address worth allowing, so the list must
	// be configured.
	list, err := allowlist.Resolve(cfg.Hosts.Allowed, nil)
	if err != nil {
		return err
	}
	pol, err := policy.New(list, cfg.Hosts.AllowEmptyHosts)
	if err != nil {
		return err
	}

	p, err := proxy.New(cfg.Proxy.Listen, pol, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return p.Start(ctx)
}
