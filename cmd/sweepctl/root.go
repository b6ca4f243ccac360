package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/sweeper/internal/accounts"
	"github.com/p-blackswan/sweeper/internal/config"
	"github.com/p-blackswan/sweeper/internal/retry"
	"github.com/p-blackswan/sweeper/internal/store"
	"github.com/p-blackswan/sweeper/internal/timeline"
)

// cliActor is recorded in the audit log for changes made from the CLI.
const cliActor = "sweepctl"

type globalFlags struct {
	dbPath   string
	logLevel string
	asJSON   bool
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "sweepctl",
		Short: "Operate the retention sweeper",
		Long: `sweepctl manages linked accounts, runs sweeps on demand and inspects sweep
history.

Configuration is read from the same environment variables as the daemon
(DB_PATH, X_API_BASE_URL, X_CLIENT_ID, ...). Flags override them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.dbPath, "db", "", "database path (default $DB_PATH)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level for diagnostics on stderr")
	root.PersistentFlags().BoolVar(&flags.asJSON, "json", false, "print JSON instead of tables")

	root.AddCommand(
		newAccountsCmd(flags),
		newSweepCmd(flags),
		newRunsCmd(flags),
		newPruneCmd(flags),
	)
	return root
}

// env is what a command needs to touch the database and the X API.
type env struct {
	cfg      *config.Config
	store    *store.Store
	client   *timeline.Client
	accounts *accounts.Service
	logger   zerolog.Logger
	out      io.Writer
	asJSON   bool
}

func openEnv(cmd *cobra.Command, flags *globalFlags) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.dbPath != "" {
		cfg.DBPath = flags.dbPath
	}

	level, err := zerolog.ParseLevel(flags.logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", flags.logLevel, err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).
		Level(level).
		With().Timestamp().Logger()

	db, err := store.New(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}

	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.XRetryAttempts
	client := timeline.NewClient(timeline.Config{
		BaseURL:      cfg.XAPIBaseURL,
		ClientID:     cfg.XClientID,
		ClientSecret: cfg.XClientSecret,
		BearerToken:  cfg.XBearerToken,
		Retry:        rc,
		Tokens:       db,
	}, logger)

	return &env{
		cfg:      cfg,
		store:    db,
		client:   client,
		accounts: accounts.NewService(db, client, logger),
		logger:   logger,
		out:      cmd.OutOrStdout(),
		asJSON:   flags.asJSON,
	}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.logger.Warn().Err(err).Msg("failed to close database")
	}
}

// ctx tags the command context with the CLI audit actor.
func (e *env) ctx(cmd *cobra.Command) context.Context {
	return accounts.WithActor(cmd.Context(), cliActor)
}

func (e *env) printJSON(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withEnv opens an env for the duration of run.
func withEnv(flags *globalFlags, run func(cmd *cobra.Command, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd, flags)
		if err != nil {
			return err
		}
		defer e.Close()
		return run(cmd, e, args)
	}
}
