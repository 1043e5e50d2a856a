package cmd

import (
	"encoding/json"
	"log/slog"

	"github.com/spf13/cobra"

	"companion/internal/bootstrap/logging"
	"companion/internal/errs"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print cache health and session state",
	RunE: withApp(func(cmd *cobra.Command, rt *runtime) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		if err := restoreSession(ctx, rt); err != nil {
			return err
		}

		out := map[string]any{
			"cache":   rt.Cache.Health(),
			"session": rt.Session.State().Current(),
		}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(out); err != nil {
			return errs.Wrap(err, "write status output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
