package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/sweeper/internal/store"
)

func newRunsCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs <id>",
		Short: "Show sweep history for an account",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(flags, func(cmd *cobra.Command, e *env, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			runs, err := e.store.ListRuns(e.ctx(cmd), id, limit)
			if err != nil {
				return err
			}
			if e.asJSON {
				if runs == nil {
					runs = []store.SweepRun{}
				}
				return e.printJSON(runs)
			}

			tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTARTED\tDELETED\tFAILURES\tREASON\tERROR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
					r.RunID, r.Outcome.StartedAt.UTC().Format(time.RFC3339),
					r.Outcome.PostsDeleted, r.Outcome.DeleteFailures, r.Outcome.Reason, r.Outcome.Err)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show, newest first")
	return cmd
}

func newPruneCmd(flags *globalFlags) *cobra.Command {
	var horizon time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete sweep history and audit entries older than the horizon",
		Args:  cobra.NoArgs,
		RunE: withEnv(flags, func(cmd *cobra.Command, e *env, _ []string) error {
			h := e.cfg.HistoryRetention
			if cmd.Flags().Changed("horizon") {
				h = horizon
			}
			if h <= 0 {
				return fmt.Errorf("horizon must be positive, got %s", h)
			}
			deleted, err := e.store.RunRetention(e.ctx(cmd), h)
			if err != nil {
				return err
			}
			if e.asJSON {
				return e.printJSON(map[string]any{"deleted": deleted, "horizon": h.String()})
			}
			_, err = fmt.Fprintf(e.out, "pruned %d rows older than %s\n", deleted, h)
			return err
		}),
	}
	cmd.Flags().DurationVar(&horizon, "horizon", 0, "retention horizon (default $HISTORY_RETENTION)")
	return cmd
}
