package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"companion/internal/bootstrap/logging"
	"companion/internal/domain/keys"
	"companion/internal/errs"
	"companion/internal/infrastructure/realtime"
	"companion/internal/transport/status"
)

// runCmd is the long-lived companion runtime: periodic revalidation, the
// local status endpoint and the optional realtime invalidation feed.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the companion background runtime",
	RunE: withApp(func(cmd *cobra.Command, rt *runtime) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := restoreSession(runCtx, rt); err != nil {
			return err
		}

		cfg := rt.App.Config
		if err := rt.Registry.Watch(runCtx); err != nil {
			logging.Warn(runCtx, "registry hot reload unavailable", slog.Any("err", errs.Loggable(err)))
		}

		if rt.Session.State().Current().Authenticated {
			rt.Orch.StartPeriodic(runCtx, cfg.Sync.Interval)
			defer rt.Orch.StopPeriodic()
		} else {
			logging.Info(runCtx, "not authenticated, periodic sync disarmed")
		}

		if cfg.Realtime.Enabled {
			listener, err := realtime.NewListener(cfg.Backend.BaseURL, cfg.Backend.APIKey, func(collection string) {
				if err := rt.Cache.Remove(runCtx, keys.ForCollection(collection)); err != nil {
					logging.Warn(runCtx, "realtime invalidation failed",
						slog.String("collection", collection),
						slog.Any("err", errs.Loggable(err)))
				}
			})
			if err != nil {
				return errs.Wrap(err, "build realtime listener")
			}
			go func() { _ = listener.Run(runCtx) }()
		}

		server := status.NewServer(cfg.Status.Addr, rt.Cache, rt.Session.State(), rt.Orch)
		if err := server.Start(runCtx); err != nil {
			return err
		}

		logging.Info(ctx, "companion runtime stopped")
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(runCmd)
}
