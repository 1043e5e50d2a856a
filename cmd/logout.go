package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"companion/internal/bootstrap/logging"
	"companion/internal/errs"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and purge all cached conference data",
	RunE: withApp(func(cmd *cobra.Command, rt *runtime) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		if err := restoreSession(ctx, rt); err != nil {
			return err
		}

		result := rt.Session.Logout(ctx)
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "cleared %d cache entries, removed %d assets\n",
			len(result.ClearedKeys), result.AssetsRemoved); err != nil {
			return errs.Wrap(err, "write logout output")
		}
		for _, stepErr := range result.Errors {
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "warning: %s: %s\n", stepErr.Step, stepErr.Message); err != nil {
				return errs.Wrap(err, "write logout output")
			}
		}
		if !result.Success {
			return fmt.Errorf("logout purge incomplete")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
