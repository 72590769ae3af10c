package main

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-print"
	"github.com/spf13/cobra"
)

func newTiersCmd(a *app) *cobra.Command {
	var tags string

	cmd := &cobra.Command{
		Use:   "tiers",
		Short: "Print the tier table, or the tier detected for --tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tags == "" {
				fmt.Println(print.MaybePrettyJSON(a.cfg.Tiers))
				return nil
			}

			tier := a.cfg.Tiers.Detect(strings.Split(tags, ","))
			fmt.Println(tier)
			return nil
		},
	}

	cmd.Flags().StringVar(&tags, "tags", "", "comma separated membership tags")
	return cmd
}
