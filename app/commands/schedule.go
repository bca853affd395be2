package commands

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/company-segments/app/router"
	"github.com/amirphl/company-segments/app/scheduler"
	businessflow "github.com/amirphl/company-segments/business_flow"
	"github.com/spf13/cobra"
)

// ScheduleCmd returns the schedule command
func ScheduleCmd(factory AppFactory) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Rebuild every published segment on an interval",
		Long: `Run full rebuilds periodically until SIGINT or SIGTERM.

When metrics are enabled an ops server exposes /health and /metrics.
A stop signal lets the running segment finish its current batch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := factory(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if !app.Config.Scheduler.Enabled {
				return errors.New("scheduler is disabled (SCHEDULER_ENABLED=false)")
			}
			if !cmd.Flags().Changed("interval") {
				interval = app.Config.Scheduler.Interval
			}
			opts := businessflow.RebuildOptions{
				BatchSize:  app.Config.Rebuild.BatchSize,
				ExcludeIDs: app.Config.Scheduler.ExcludeIDs,
			}
			sched := scheduler.NewRebuildScheduler(app.RebuildFlow(), opts, interval, app.Log)

			var ops router.Router
			if app.Config.Metrics.Enabled {
				ops = router.NewOpsRouter(sched, app.Log)
				ops.SetupRoutes()
				go func() {
					if err := ops.Start(app.Config.Metrics.Address); err != nil {
						app.Log.Error().Err(err).Msg("Ops server stopped")
					}
				}()
			}

			stopScheduler := sched.Start(ctx)
			app.Log.Info().Dur("interval", interval).Msg("Scheduler started")

			<-ctx.Done()
			app.Log.Info().Msg("Shutting down gracefully...")
			stopScheduler()

			if ops != nil {
				if err := ops.Shutdown(); err != nil {
					app.Log.Warn().Err(err).Msg("Error during ops server shutdown")
				}
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", time.Hour, "Time between runs")

	return cmd
}
