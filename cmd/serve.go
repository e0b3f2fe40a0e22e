package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitecrawler/internal/app"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the crawl HTTP API",
		Long: `Starts the HTTP API on the configured port. Crawls submitted through the
API share one worker pool; finished crawls are persisted to the configured
store and announced on the configured publisher.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}
			runErr := a.Run(cmd.Context())

			timeout := opts.cfg.Server.ShutdownTimeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), timeout)
			defer cancel()
			return errors.Join(runErr, a.Close(closeCtx))
		},
	}
}
