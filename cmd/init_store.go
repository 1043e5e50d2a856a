/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"companion/internal/bootstrap/logging"
	"companion/internal/errs"
)

// initStoreCmd represents the init-store command
var initStoreCmd = &cobra.Command{
	Use:   "init-store",
	Short: "Initialize the local cache store schema",
	RunE: withApp(func(cmd *cobra.Command, rt *runtime) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		logging.Info(ctx, "start init-store")

		if err := rt.App.InitSchema(ctx); err != nil {
			logging.Error(ctx, "initialize schema failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "initialize schema")
		}

		logging.Info(ctx, "init-store finished", slog.String("database_dsn", rt.App.Config.Database.DSN))
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "cache store initialized: %s\n", rt.App.Config.Database.DSN); err != nil {
			return errs.Wrap(err, "write init-store output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(initStoreCmd)
}
