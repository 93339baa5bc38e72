// Package cli implements the pmt command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "pmt",
		Short:         "PMT batch aggregation pipeline",
		Long:          "Batch join-and-aggregate pipeline for the planning metrics project: reads tabular sources, joins reference tables, derives spatial group membership, and appends per-unit summaries to a single output table.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file (missing file is ignored)")

	rootCmd.AddCommand(
		newRunCmd(&envFile),
		newValidateCmd(),
		newHistoryCmd(&envFile),
		newScheduleCmd(&envFile),
		newVersionCmd(),
	)
	return rootCmd
}
