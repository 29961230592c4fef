package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"settlement-reconciliation-engine/internal/config"
	"settlement-reconciliation-engine/internal/repository"
)

func newMigrateCommand() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("", "")
			if err != nil {
				return err
			}
			log, err := newLogger(cfg, verbose)
			if err != nil {
				return err
			}
			defer log.Sync()

			db, err := config.InitDB(cfg.Database, log)
			if err != nil {
				return err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			if err := repository.Migrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log database activity to stderr")
	return cmd
}
