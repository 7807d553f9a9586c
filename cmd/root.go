// Package cmd defines and implements the CLI commands for the poisearch
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-poi-crawler/internal/bulk"
	"github.com/JakeFAU/realtime-poi-crawler/internal/config"
	"github.com/JakeFAU/realtime-poi-crawler/internal/geo"
	"github.com/JakeFAU/realtime-poi-crawler/internal/poi"
	memorypublisher "github.com/JakeFAU/realtime-poi-crawler/internal/publisher/memory"
	"github.com/JakeFAU/realtime-poi-crawler/internal/server"
)

// App defines the application interface that commands use. Tests inject a
// differently wired app through newApp.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context)
	Logger() *zap.Logger
	Service() *bulk.Service
	Regions() *geo.Lookup
	Results() poi.ResultStore
	Notifications() []memorypublisher.PublishedMessage
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

type rootOptions struct {
	cfgFile string
}

// loadApp reads configuration and builds the application.
func (o *rootOptions) loadApp(ctx context.Context) (App, config.Config, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("load config: %w", err)
	}
	app, err := newApp(ctx, cfg)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return app, cfg, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "poisearch",
		Short: "Bulk point-of-interest search over the AMap place API.",
		Long: `poisearch fans one keyword out over many Chinese cities, pages each
city's AMap place-text results to exhaustion and stores the aggregate.
Run it as an HTTP service (serve) or for a single keyword (search).`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (env vars prefixed POI_ override it)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newRegionsCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
