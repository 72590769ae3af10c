package main

import (
	"fmt"
	"os"

	auth "github.com/goliatone/go-learner-auth"
	"github.com/spf13/cobra"
)

type app struct {
	cfgFile string
	cfg     *auth.Config
	logger  *auth.ZerologLogger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "learnauth",
		Short: "Learner sessions and membership webhook ingestion",
		Long: `learnauth issues learner sessions, provisions accounts from membership
webhooks and keeps a bounded audit log of received events.

Example usage:
  learnauth serve --config learnauth.yaml
  learnauth migrate up
  learnauth token issue someone@example.com
  learnauth tiers
  learnauth profile deactivate ada@example.com`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (yaml)")

	root.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newTokenCmd(a),
		newTiersCmd(a),
		newProfileCmd(a),
	)

	return root
}

func (a *app) load() error {
	cfg, err := auth.LoadConfig(a.cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.cfg = cfg
	a.logger = auth.NewConsoleLogger(os.Stderr, cfg.Log.Level, cfg.Log.Pretty)
	a.logger.Debug("configuration loaded",
		"addr", cfg.Server.Addr,
		"database", cfg.Database.Driver,
		"audit", cfg.Audit.Backend,
	)
	return nil
}
