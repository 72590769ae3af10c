package main

import (
	"context"

	auth "github.com/goliatone/go-learner-auth"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the profile schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(cmd.Context(), func(ctx context.Context, db *bun.DB) error {
				applied, err := auth.Migrate(ctx, db)
				if err != nil {
					return err
				}
				a.logger.Info("migrations applied", "count", len(applied), "names", applied)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(cmd.Context(), func(ctx context.Context, db *bun.DB) error {
				reverted, err := auth.Rollback(ctx, db)
				if err != nil {
					return err
				}
				a.logger.Info("migrations rolled back", "count", len(reverted), "names", reverted)
				return nil
			})
		},
	})

	return cmd
}
