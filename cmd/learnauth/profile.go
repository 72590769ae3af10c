package main

import (
	"context"

	auth "github.com/goliatone/go-learner-auth"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

func newProfileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage learner profiles",
	}

	setActive := func(active bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return a.withDB(cmd.Context(), func(ctx context.Context, db *bun.DB) error {
				provisioner := auth.NewProvisioner(auth.NewRepositoryManager(db).Profiles(),
					auth.WithTierRules(a.cfg.Tiers),
					auth.WithProvisionerLogger(a.logger.Named("provisioner")),
				)
				return provisioner.SetActive(ctx, args[0], active)
			})
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "activate <email>",
			Short: "Allow a profile to sign in again",
			Args:  cobra.ExactArgs(1),
			RunE:  setActive(true),
		},
		&cobra.Command{
			Use:   "deactivate <email>",
			Short: "Stop a profile from signing in",
			Args:  cobra.ExactArgs(1),
			RunE:  setActive(false),
		},
	)

	return cmd
}
