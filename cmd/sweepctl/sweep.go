package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/sweeper/internal/dispatch"
	"github.com/p-blackswan/sweeper/internal/fleet"
	"github.com/p-blackswan/sweeper/internal/names"
	"github.com/p-blackswan/sweeper/internal/notify"
	"github.com/p-blackswan/sweeper/internal/retention"
)

func newSweepCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run retention sweeps now",
	}

	account := &cobra.Command{
		Use:   "account <id>",
		Short: "Sweep one account",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(flags, func(cmd *cobra.Command, e *env, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			out := e.worker().Sweep(e.ctx(cmd), id, uuid.NewString())
			if err := e.printOutcomes([]retention.Outcome{out}); err != nil {
				return err
			}
			if out.Failed() {
				return fmt.Errorf("sweep of %d failed: %s", id, out.Err)
			}
			return nil
		}),
	}

	var maxAccounts int
	fleetCmd := &cobra.Command{
		Use:   "fleet",
		Short: "Sweep every active account",
		Long: `Sweep every active account once, the same way the scheduled fleet run does.

The status line is printed instead of being sent to the configured notifiers.`,
		Args: cobra.NoArgs,
		RunE: withEnv(flags, func(cmd *cobra.Command, e *env, _ []string) error {
			ctx := e.ctx(cmd)
			engine := dispatch.NewEngine(dispatch.Config{
				Workers:   e.cfg.SweepWorkers,
				QueueSize: e.cfg.SweepQueueSize,
				Timeout:   e.cfg.SweepTimeout,
			}, e.worker(), e.logger)
			engine.Start(ctx)
			defer engine.Stop()

			status := notify.NotifierFunc(func(_ context.Context, line string) error {
				if e.asJSON {
					return nil
				}
				_, err := fmt.Fprintln(e.out, line)
				return err
			})

			limit := e.cfg.FleetMaxAccounts
			if cmd.Flags().Changed("max-accounts") {
				limit = maxAccounts
			}
			coord := fleet.NewCoordinator(fleet.CoordinatorConfig{
				MaxAccounts:    limit,
				PublishTimeout: e.cfg.NotifyTimeout,
			}, e.store, engine, status, nil, e.logger)

			sum := coord.Run(ctx)
			if e.asJSON {
				if err := e.printJSON(sum); err != nil {
					return err
				}
			} else if err := e.printOutcomes(sum.Outcomes); err != nil {
				return err
			}
			if sum.Err != "" {
				return fmt.Errorf("fleet sweep failed: %s", sum.Err)
			}
			return nil
		}),
	}
	fleetCmd.Flags().IntVar(&maxAccounts, "max-accounts", 0, "sweep at most this many accounts, 0 for all (default $FLEET_MAX_ACCOUNTS)")

	cmd.AddCommand(account, fleetCmd)
	return cmd
}

func (e *env) worker() *fleet.Worker {
	sweeper := retention.NewSweeper(retention.Config{DeletionCap: e.cfg.DeletionCap}, e.logger)
	resolver := names.NewResolver(e.client, e.store, e.cfg.NameCacheSize, e.cfg.NameCacheTTL, e.logger)
	return fleet.NewWorker(e.store, e.client, sweeper, e.logger,
		fleet.WithNames(resolver),
		fleet.WithRecorder(e.store),
	)
}

func (e *env) printOutcomes(outcomes []retention.Outcome) error {
	if e.asJSON {
		if outcomes == nil {
			outcomes = []retention.Outcome{}
		}
		return e.printJSON(outcomes)
	}

	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tDELETED\tFAILURES\tREASON\tDURATION\tERROR")
	for _, o := range outcomes {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\t%s\n",
			o.AccountID, o.PostsDeleted, o.DeleteFailures, o.Reason,
			o.FinishedAt.Sub(o.StartedAt).Round(time.Millisecond), o.Err)
	}
	return tw.Flush()
}
