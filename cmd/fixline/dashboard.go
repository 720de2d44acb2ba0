package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fixline/fixline/internal/config"
	"github.com/fixline/fixline/internal/dashboard"
	"github.com/fixline/fixline/internal/db"
	"github.com/spf13/cobra"
)

func newDashboardCmd() *cobra.Command {
	var configPath string
	var addr string

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Run the triage dashboard HTTP server",
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

			if addr == "" {
				addr = cfg.Dashboard.Addr
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			return dashboard.Start(ctx, dashboard.StartOpts{
				DB:           gdb,
				Tickets:      svcs.tickets,
				Stats:        svcs.stats,
				Addr:         addr,
				OverdueAfter: cfg.SLA.OverdueAfter.Std(),
				Out:          cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to Fixline config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}
