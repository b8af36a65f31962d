package cmd

import (
	"fmt"

	"github.com/example/teetime-scheduler/internal/config"
	"github.com/example/teetime-scheduler/internal/migrate"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if cfg.StoreDriver == config.DriverSQLite {
				fmt.Fprintln(out, "sqlite schema is brought up to date whenever the database is opened")
				return nil
			}
			if err := migrate.Up(cfg.DatabaseURL); err != nil {
				return err
			}
			v, dirty, err := migrate.Version(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "schema at version %d (dirty=%t)\n", v, dirty)
			return nil
		},
	}
}
