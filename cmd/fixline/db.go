package main

import (
	"fmt"
	"os"

	"github.com/fixline/fixline/internal/config"
	"github.com/fixline/fixline/internal/db"
	"github.com/spf13/cobra"
)

// dbName names the database for status messages: the schema name for MySQL,
// the file path for SQLite.
func dbName(cfg config.DatabaseConfig) string {
	if cfg.Driver == "sqlite" {
		return cfg.Path
	}
	return cfg.Database
}

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the Fixline database",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBDropCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run migrations and reseed admins on an existing database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			gdb, err := db.Connect(cfg.Database)
			if err != nil {
				return err
			}
			if err := db.AutoMigrate(gdb); err != nil {
				return err
			}
			if err := db.SeedAdmins(gdb, cfg.Bot.AdminIDs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database %s migrated\n", dbName(cfg.Database))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to Fixline config file")
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database, run migrations, and seed admins",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			// SQLite needs no server-side CREATE DATABASE; opening the file
			// creates it.
			if cfg.Database.Driver != "sqlite" {
				adminDB, err := db.ConnectAdmin(cfg.Database)
				if err != nil {
					return err
				}
				if err := db.CreateDatabase(adminDB, cfg.Database.Database); err != nil {
					return err
				}
			}

			gdb, err := db.Connect(cfg.Database)
			if err != nil {
				return err
			}
			if err := db.AutoMigrate(gdb); err != nil {
				return err
			}
			if err := db.SeedAdmins(gdb, cfg.Bot.AdminIDs); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Database %s initialized (%d admins seeded)\n",
				dbName(cfg.Database), len(cfg.Bot.AdminIDs))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to Fixline config file")
	return cmd
}

func newDBDropCmd() *cobra.Command {
	var configPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop the Fixline database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("refusing to drop without --force")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Database.Driver == "sqlite" {
				if err := os.Remove(cfg.Database.Path); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("drop sqlite database %s: %w", cfg.Database.Path, err)
				}
			} else {
				adminDB, err := db.ConnectAdmin(cfg.Database)
				if err != nil {
					return err
				}
				if err := db.DropDatabase(adminDB, cfg.Database.Database); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database %s dropped\n", dbName(cfg.Database))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to Fixline config file")
	cmd.Flags().BoolVar(&force, "force", false, "confirm the drop")
	return cmd
}
