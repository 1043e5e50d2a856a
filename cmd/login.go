package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"companion/internal/bootstrap/logging"
	"companion/internal/errs"
)

var loginCmd = &cobra.Command{
	Use:   "login <access-code>",
	Short: "Sign in with a printed access code and populate the cache",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, rt *runtime) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		result, err := rt.Session.Login(ctx, cmd.Flags().Arg(0))
		if err != nil {
			return errs.Wrap(err, "login")
		}

		current := rt.Session.State().Current()
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s)\n", current.DisplayName, current.Role); err != nil {
			return errs.Wrap(err, "write login output")
		}
		if result.Success {
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "synced %d collections\n", len(result.Synced))
		} else {
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "synced %d collections, %d failed (will retry on read)\n",
				len(result.Synced), len(result.Errors))
		}
		if err != nil {
			return errs.Wrap(err, "write login output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
