package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/sweeper/internal/accounts"
	"github.com/p-blackswan/sweeper/internal/config"
	"github.com/p-blackswan/sweeper/internal/models"
)

func newAccountsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage linked accounts",
	}

	var owner string
	list := &cobra.Command{
		Use:   "list",
		Short: "List linked accounts",
		Args:  cobra.NoArgs,
		RunE: withEnv(flags, func(cmd *cobra.Command, e *env, _ []string) error {
			found, err := e.accounts.List(e.ctx(cmd), owner)
			if err != nil {
				return err
			}
			return e.printAccounts(found)
		}),
	}
	list.Flags().StringVar(&owner, "owner", "", "only accounts of this owner")

	var link linkFlags
	linkCmd := &cobra.Command{
		Use:   "link <id>",
		Short: "Link an account or refresh its credentials",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(flags, func(cmd *cobra.Command, e *env, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			a, err := e.accounts.Link(e.ctx(cmd), link.owner, id, link.screenName, &models.Credentials{
				AccessToken:  link.accessToken,
				RefreshToken: link.refreshToken,
			})
			if err != nil {
				return err
			}
			return e.printAccounts([]models.Account{*a})
		}),
	}
	linkCmd.Flags().StringVar(&link.owner, "owner", "", "owning user")
	linkCmd.Flags().StringVar(&link.screenName, "screen-name", "", "screen name, for display only")
	linkCmd.Flags().StringVar(&link.accessToken, "access-token", "", "OAuth2 user access token")
	linkCmd.Flags().StringVar(&link.refreshToken, "refresh-token", "", "OAuth2 refresh token")
	_ = linkCmd.MarkFlagRequired("owner")
	_ = linkCmd.MarkFlagRequired("access-token")

	cmd.AddCommand(
		list,
		linkCmd,
		toggleCmd(flags, "enable", "Enable retention for an account", true),
		toggleCmd(flags, "disable", "Disable retention for an account", false),
		setHoursCmd(flags),
		importCmd(flags),
	)
	return cmd
}

type linkFlags struct {
	owner        string
	screenName   string
	accessToken  string
	refreshToken string
}

func toggleCmd(flags *globalFlags, use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(flags, func(cmd *cobra.Command, e *env, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			a, err := e.accounts.SetRetention(e.ctx(cmd), id, accounts.RetentionChange{Active: &active})
			if err != nil {
				return err
			}
			return e.printAccounts([]models.Account{*a})
		}),
	}
}

func setHoursCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set-hours <id> <hours>",
		Short: "Set the retention window in hours",
		Args:  cobra.ExactArgs(2),
		RunE: withEnv(flags, func(cmd *cobra.Command, e *env, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			hours, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("hours must be an integer: %w", err)
			}
			a, err := e.accounts.SetRetention(e.ctx(cmd), id, accounts.RetentionChange{Hours: &hours})
			if err != nil {
				return err
			}
			return e.printAccounts([]models.Account{*a})
		}),
	}
}

func importCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <seed.yaml>",
		Short: "Link accounts listed in a YAML seed file",
		Long: `Link every account in a YAML seed file, then apply its retention settings.

Example seed:

  accounts:
    - id: 123456
      owner: alice
      screen_name: alice_posts
      access_token: ...
      active: true
      retention_hours: 24`,
		Args: cobra.ExactArgs(1),
		RunE: withEnv(flags, func(cmd *cobra.Command, e *env, args []string) error {
			seed, err := config.LoadSeed(args[0])
			if err != nil {
				return err
			}
			ctx := e.ctx(cmd)

			linked := make([]models.Account, 0, len(seed.Accounts))
			for _, sa := range seed.Accounts {
				a, err := e.accounts.Link(ctx, sa.Owner, sa.ID, sa.ScreenName, &models.Credentials{
					AccessToken:  sa.AccessToken,
					RefreshToken: sa.RefreshToken,
				})
				if err != nil {
					return fmt.Errorf("link account %d: %w", sa.ID, err)
				}
				if sa.Active != nil || sa.RetentionHours != nil {
					a, err = e.accounts.SetRetention(ctx, sa.ID, accounts.RetentionChange{
						Active: sa.Active,
						Hours:  sa.RetentionHours,
					})
					if err != nil {
						return fmt.Errorf("set retention for %d: %w", sa.ID, err)
					}
				}
				linked = append(linked, *a)
			}
			e.logger.Info().Int("accounts", len(linked)).Str("file", args[0]).Msg("seed imported")
			return e.printAccounts(linked)
		}),
	}
}

func parseAccountID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("account id must be a positive integer, got %q", s)
	}
	return id, nil
}

func (e *env) printAccounts(list []models.Account) error {
	if e.asJSON {
		if list == nil {
			list = []models.Account{}
		}
		return e.printJSON(list)
	}

	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOWNER\tSCREEN NAME\tACTIVE\tHOURS\tACTIVATED\tFLOOR")
	for _, a := range list {
		activated := "-"
		if !a.ActivatedAt.IsZero() {
			activated = a.ActivatedAt.UTC().Format("2006-01-02T15:04:05Z")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%d\t%s\t%d\n",
			a.SocialAccountID, a.Owner, a.ScreenName, a.Active, a.RetentionHours, activated, a.ActivatedStatusID)
	}
	return tw.Flush()
}
