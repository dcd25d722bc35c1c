package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one discovery and extraction pass",
		Long: `Discovers candidate resort URLs, fetches each one through the robots gate and
per-domain throttle, extracts every field and merges the results into the record
store. Per-URL failures are reported but never fail the command.`,
		RunE: runCrawlCommand,
	}
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer a.Close()

	statusCtx, stopStatus := context.WithCancel(ctx)
	defer stopStatus()
	go func() {
		if serr := a.ServeStatus(statusCtx); serr != nil {
			e.logger.Error("Status server failed", zap.Error(serr))
		}
	}()

	run, report, err := a.RunOnce(ctx)
	renderReport(cmd.OutOrStdout(), run, report)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawler: %w", err)
	}
	e.logger.Info("Crawl command finished")
	return nil
}
