package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"companion/internal/bootstrap/logging"
	"companion/internal/errs"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one full sync pass now",
	RunE: withApp(func(cmd *cobra.Command, rt *runtime) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		if err := restoreSession(ctx, rt); err != nil {
			return err
		}

		result := rt.Orch.SyncAll(ctx)
		if result.Skipped != "" {
			return fmt.Errorf("sync skipped: %s", result.Skipped)
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "synced: %s\n", strings.Join(result.Synced, ", ")); err != nil {
			return errs.Wrap(err, "write sync output")
		}
		for name, message := range result.Errors {
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "failed: %s: %s\n", name, message); err != nil {
				return errs.Wrap(err, "write sync output")
			}
		}
		if !result.Success {
			return fmt.Errorf("sync finished with %d failed collections", len(result.Errors))
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
