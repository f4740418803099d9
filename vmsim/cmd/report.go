package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/sarchlab/vmswap/recording"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report <database>",
	Short: "Summarize the events recorded by `run --record`.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := recording.OpenReader(args[0])
		if err != nil {
			return err
		}
		defer r.Close()

		summary, err := r.Summary(context.Background())
		if err != nil {
			return err
		}

		printSummary(cmd, summary)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

func printSummary(cmd *cobra.Command, summary map[string]int) {
	names := make([]string, 0, len(summary))
	for name := range summary {
		names = append(names, name)
	}
	sort.Strings(names)

	out := cmd.OutOrStdout()
	for _, name := range names {
		fmt.Fprintf(out, "%-12s %d\n", name, summary[name])
	}
}
