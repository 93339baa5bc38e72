package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pmt-pipeline/internal/jobspec"
	"pmt-pipeline/internal/pipeline"
)

func newScheduleCmd(envFile *string) *cobra.Command {
	var (
		cronExpr   string
		skipFailed bool
	)

	cmd := &cobra.Command{
		Use:   "schedule <job-file>",
		Short: "Re-run a job on a cron schedule until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if cronExpr == "" {
				return fmt.Errorf("--cron is required")
			}
			job, err := jobspec.Load(args[0])
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, *envFile)
			if err != nil {
				return err
			}
			defer rt.close()

			runner, err := rt.runner(ctx, job.Spatial != nil)
			if err != nil {
				return err
			}

			sched := pipeline.NewScheduler(runner, rt.logger)
			if err := sched.Add(cronExpr, job, pipeline.RunOptions{SkipFailedUnits: skipFailed}); err != nil {
				return fmt.Errorf("invalid cron schedule %q: %w", cronExpr, err)
			}
			sched.Start()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			sched.Stop()
			return nil
		},
	}

	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression (e.g. \"0 2 * * *\")")
	cmd.Flags().BoolVar(&skipFailed, "skip-failed", false, "Record failing units and continue instead of aborting")
	return cmd
}
