package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the store schema and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			slog.Info("Running migrations", "store", viper.GetString("store.driver"))

			// openApp migrates as part of building the services
			_, release, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			fmt.Fprintln(cmd.OutOrStdout(), "✅ Migrations completed")
			return nil
		},
	}
}
