package main

import (
	"fmt"

	"github.com/fixline/fixline/internal/bot"
	"github.com/fixline/fixline/internal/config"
	"github.com/fixline/fixline/internal/db"
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print backlog metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			gdb, err := db.Connect(cfg.Database)
			if err != nil {
				return err
			}
			svcs, err := buildServices(gdb, nil, nil)
			if err != nil {
				return err
			}
			sum, err := svcs.stats.Summarize(cfg.SLA.OverdueAfter.Std())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), bot.FormatSummary(sum))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to Fixline config file")
	return cmd
}
