package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ski-resort-crawler/internal/app"
)

func newScheduleCmd() *cobra.Command {
	var runNow bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Re-crawls on the schedule.cron expression until interrupted",
		Long: `Keeps the process alive and starts a crawl on every tick of schedule.cron.
A tick that arrives while the previous crawl is still running is skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleCommand(cmd, runNow)
		},
	}
	cmd.Flags().BoolVar(&runNow, "run-now", false, "start a crawl immediately instead of waiting for the first tick")
	return cmd
}

func runScheduleCommand(cmd *cobra.Command, runNow bool) error {
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

	logger := e.logger.Named("schedule")
	job := func() {
		run, report, err := a.RunOnce(ctx)
		switch {
		case errors.Is(err, app.ErrRunInProgress):
			logger.Info("Skipping tick; previous crawl still running")
		case err != nil && !errors.Is(err, context.Canceled):
			logger.Error("Scheduled crawl failed", zap.String("run_id", run.ID.String()), zap.Error(err))
		case err == nil:
			renderReport(cmd.OutOrStdout(), run, report)
		}
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger.Sugar()})))
	if _, err := c.AddFunc(e.cfg.Schedule.Cron, job); err != nil {
		return fmt.Errorf("parse schedule.cron %q: %w", e.cfg.Schedule.Cron, err)
	}

	go func() {
		if serr := a.ServeStatus(ctx); serr != nil {
			logger.Error("Status server failed", zap.Error(serr))
		}
	}()

	if runNow {
		go job()
	}
	c.Start()
	logger.Info("Scheduler started", zap.String("cron", e.cfg.Schedule.Cron))

	<-ctx.Done()
	logger.Info("Shutdown initiated; waiting for the running crawl")
	<-c.Stop().Done()
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
