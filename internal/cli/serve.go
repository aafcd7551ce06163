package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/svgtranslate/svgbatch/internal/jobs"
)

// newServeCmd creates the serve command for scheduled job execution
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled jobs until interrupted",
		Long: `Run the job scheduler in the foreground.

Schedules come from the config file, one cron expression per job type:

  schedules:
    - cron: "0 3 * * *"
      job_type: crop_main_files

On SIGINT/SIGTERM the scheduler stops, running jobs are asked to cancel
and the process waits for them to record a terminal status.

Example:
  svgbatch serve
  svgbatch serve --config /etc/svgbatch/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if len(a.cfg.Schedules) == 0 {
				return fmt.Errorf("no schedules configured; add a schedules section to the config file")
			}

			dispatcher, err := a.dispatcher()
			if err != nil {
				return err
			}

			scheduler := jobs.NewScheduler(dispatcher, a.logger)
			for _, s := range a.cfg.Schedules {
				if err := scheduler.Add(s.Cron, s.JobType); err != nil {
					return fmt.Errorf("schedule %q for %s: %w", s.Cron, s.JobType, err)
				}
				a.logger.Info("job scheduled", "cron", s.Cron, "job_type", s.JobType)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				scheduler.Start()
				<-ctx.Done()
				scheduler.Stop()
				return nil
			})
			g.Go(func() error {
				ticker := time.NewTicker(time.Minute)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
						for _, st := range a.pools.Stats() {
							a.logger.Debug("pool stats",
								"pool", st.Name,
								"in_use", st.InUse,
								"idle", st.Idle,
								"open", st.Open)
						}
					}
				}
			})

			fmt.Printf("Running %d schedule(s), press Ctrl+C to stop\n", len(a.cfg.Schedules))
			if err := g.Wait(); err != nil {
				return err
			}

			// Ask in-flight jobs to stop at their next item boundary,
			// then wait for them to finish recording results.
			for _, id := range dispatcher.Running() {
				dispatcher.Cancel(id)
			}
			dispatcher.Wait()

			fmt.Fprintln(os.Stderr, "Shutdown complete")
			return nil
		},
	}
}
