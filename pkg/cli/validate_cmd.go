package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pmt-pipeline/internal/jobspec"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <job-file>",
		Short: "Check a job file against the closed operation sets without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := jobspec.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", job.Name)
			return nil
		},
	}
}
