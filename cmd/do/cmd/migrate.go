package cmd

import (
	"database/sql"
	"fmt"

	"github.com/onetimeview/onetimeview/internal/config"
	"github.com/onetimeview/onetimeview/internal/db"
	"github.com/spf13/cobra"
)

func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQL schema",
	}

	cmd.AddCommand(
		migrateSubCmd("up", "Apply all pending migrations", db.RunMigrations),
		migrateSubCmd("down", "Roll back the latest migration", db.MigrateDown),
		migrateSubCmd("status", "Show applied and pending migrations", db.MigrationStatus),
	)
	return cmd
}

func migrateSubCmd(use, short string, run func(*sql.DB, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.StoreDriver != config.StoreSQL {
				return fmt.Errorf("migrations need STORE_DRIVER=%s, got %q", config.StoreSQL, cfg.StoreDriver)
			}

			database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
			if err != nil {
				return err
			}
			defer db.Close(database)

			return run(database.DB, cfg.DBDriver)
		},
	}
}
