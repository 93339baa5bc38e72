package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pmt-pipeline/internal/config"
	"pmt-pipeline/internal/jobspec"
	"pmt-pipeline/internal/pipeline"
)

func newRunCmd(envFile *string) *cobra.Command {
	var (
		yearsFlag   string
		skipFailed  bool
		parallelism int
	)

	cmd := &cobra.Command{
		Use:   "run <job-file>",
		Short: "Execute a job file over its units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			job, err := jobspec.Load(args[0])
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, *envFile)
			if err != nil {
				return err
			}
			defer rt.close()

			opts := pipeline.RunOptions{
				SkipFailedUnits: skipFailed,
				Parallelism:     parallelism,
			}
			if yearsFlag != "" {
				opts.Years, err = config.ParseYears(yearsFlag)
				if err != nil {
					return fmt.Errorf("--years: %w", err)
				}
			}

			runner, err := rt.runner(ctx, job.Spatial != nil)
			if err != nil {
				return err
			}
			return runner.Run(ctx, job, opts)
		},
	}

	cmd.Flags().StringVar(&yearsFlag, "years", "", "Comma-separated years to run (overrides PMT_YEARS)")
	cmd.Flags().BoolVar(&skipFailed, "skip-failed", false, "Record failing units and continue instead of aborting")
	cmd.Flags().IntVar(&parallelism, "parallelism", 1, "Concurrent unit processing (appends stay ordered)")
	return cmd
}
