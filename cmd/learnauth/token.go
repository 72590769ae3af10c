package main

import (
	"context"
	"fmt"
	"time"

	auth "github.com/goliatone/go-learner-auth"
	"github.com/goliatone/go-print"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

func newTokenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and inspect session tokens",
	}

	var ttl time.Duration
	var fromProfile bool

	issue := &cobra.Command{
		Use:   "issue <email>",
		Short: "Issue a session token for a learner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := auth.NewTokenService(a.cfg, auth.WithTokenLogger(a.logger))
			if err != nil {
				return err
			}

			subject := auth.NormalizeEmail(args[0])
			claims := auth.SessionClaims{SubscriptionStatus: auth.SubscriptionActive, Tier: a.cfg.Tiers.DefaultTier()}

			if fromProfile {
				err := a.withDB(cmd.Context(), func(ctx context.Context, db *bun.DB) error {
					profile, err := auth.NewBunProfileStore(db).GetProfile(ctx, subject)
					if err != nil {
						return err
					}
					claims = auth.ClaimsFromProfile(profile, a.cfg.Tiers)
					return nil
				})
				if err != nil {
					return fmt.Errorf("load profile: %w", err)
				}
			}

			token, err := tokens.Issue(subject, claims, ttl)
			if err != nil {
				return err
			}

			fmt.Println(token)
			return nil
		},
	}
	issue.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from config)")
	issue.Flags().BoolVar(&fromProfile, "profile", false, "load claims from the stored profile")

	verify := &cobra.Command{
		Use:   "verify <token>",
		Short: "Verify a session token and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := auth.NewTokenService(a.cfg, auth.WithTokenLogger(a.logger))
			if err != nil {
				return err
			}

			claims, err := tokens.Verify(args[0])
			if err != nil {
				if reason, ok := auth.TokenFailureOf(err); ok {
					return fmt.Errorf("token rejected: %s", reason)
				}
				return err
			}

			fmt.Println(print.MaybePrettyJSON(claims))
			return nil
		},
	}

	cmd.AddCommand(issue, verify)
	return cmd
}
