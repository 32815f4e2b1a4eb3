package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warpaintvision/shopsite/internal/geospatial"
)

var migrateStatus bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply siting schema migrations",
	Long:  "Applies all pending SQL migrations to the siting schema in lexicographic order.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		pool, err := openPool(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		if migrateStatus {
			pending, err := geospatial.Pending(ctx, pool)
			if err != nil {
				return eris.Wrap(err, "migrate status")
			}
			if len(pending) == 0 {
				fmt.Println("No pending migrations")
				return nil
			}
			for _, name := range pending {
				fmt.Printf("pending  %s\n", name)
			}
			return nil
		}

		if err := geospatial.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "migrate")
		}

		zap.L().Info("all siting migrations applied successfully")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "list pending migrations without applying them")
	rootCmd.AddCommand(migrateCmd)
}
