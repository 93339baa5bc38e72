package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newHistoryCmd(envFile *string) *cobra.Command {
	var (
		limit int
		runID string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs, or the unit outcomes of one run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, *envFile)
			if err != nil {
				return err
			}
			defer rt.close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer w.Flush() //nolint:errcheck

			if runID != "" {
				units, err := rt.runs.ListUnits(ctx, runID)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "UNIT\tSTATUS\tROWS IN\tROWS OUT\tERROR")
				for _, u := range units {
					errText := ""
					if u.Error != nil {
						errText = *u.Error
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", u.Unit, u.Status, u.RowsIn, u.RowsOut, errText)
				}
				return nil
			}

			runs, err := rt.runs.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "RUN ID\tJOB\tSTATUS\tSTARTED\tFINISHED")
			for _, r := range runs {
				finished := ""
				if r.FinishedAt != nil {
					finished = r.FinishedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.JobName, r.Status, r.StartedAt.Format("2006-01-02 15:04:05"), finished)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	cmd.Flags().StringVar(&runID, "run", "", "Show unit outcomes for this run ID")
	return cmd
}
