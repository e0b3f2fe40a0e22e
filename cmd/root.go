// Package cmd defines the CLI commands for the sitecrawler executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/config"
	"github.com/JakeFAU/sitecrawler/internal/logging"
)

// rootOptions carries state loaded by the root command into subcommands.
type rootOptions struct {
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "sitecrawler",
		Short: "A concurrent web crawl orchestrator.",
		Long: `sitecrawler discovers and follows links from seed URLs within page, depth
and time limits. Run it as an HTTP service with "serve" or crawl once from
the terminal with "crawl".`,
		SilenceUsage: true,

		// Config and logger are resolved before any subcommand runs.
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.ResolvePath(opts.cfgFile))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			opts.cfg = cfg
			opts.logger = logger
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "",
		fmt.Sprintf("config file (default is %s)", config.DefaultPath()))

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newCrawlCmd(opts))
	return cmd
}

// Execute runs the root command until it finishes or the process is signalled.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
