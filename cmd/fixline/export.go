package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fixline/fixline/internal/config"
	"github.com/fixline/fixline/internal/db"
	"github.com/fixline/fixline/internal/export"
	"github.com/fixline/fixline/internal/ticket"
	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	var configPath string
	var outPath string
	var status string
	var priority string
	var since string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a CSV export of requests",
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

			filter := ticket.Filter{Status: status, Priority: priority}
			if since != "" {
				cutoff, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("export: bad --since date %q (want YYYY-MM-DD)", since)
				}
				filter.CreatedAfter = cutoff
			}

			reqs, err := svcs.tickets.List(filter)
			if err != nil {
				return err
			}
			data, err := export.RequestsCSV(reqs)
			if err != nil {
				return err
			}

			if outPath == "" {
				outPath = export.FileName(time.Now())
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return fmt.Errorf("export: write %s: %w", outPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d requests to %s\n", len(reqs), outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to Fixline config file")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (defaults to a timestamped name)")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&priority, "priority", "", "filter by priority")
	cmd.Flags().StringVar(&since, "since", "", "only include requests created on or after this date (YYYY-MM-DD)")
	return cmd
}
