package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"companion/internal/bootstrap"
	"companion/internal/bootstrap/logging"
	"companion/internal/errs"
	backendinfra "companion/internal/infrastructure/backend"
	cachesvc "companion/internal/usecase/cache"
	"companion/internal/usecase/records"
	"companion/internal/usecase/session"
	syncsvc "companion/internal/usecase/sync"
)

// runtime bundles the wired services commands work against.
type runtime struct {
	App      *bootstrap.App
	Backend  *backendinfra.Client
	Cache    *cachesvc.Service
	Orch     *syncsvc.Orchestrator
	Records  *records.Service
	Session  *session.Service
	Registry *syncsvc.Registry
}

func withApp(run func(cmd *cobra.Command, rt *runtime) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := logging.WithAttrs(
			cmd.Context(),
			slog.String("command", cmd.CommandPath()),
			slog.String("config_file", cfgFile),
		)

		var rt runtime
		fxApp := fx.New(
			bootstrap.Module,
			fx.Provide(func() context.Context { return ctx }),
			fx.Provide(
				fx.Annotate(
					func() string { return cfgFile },
					fx.ResultTags(`name:"configFile"`),
				),
			),
			fx.Populate(&rt.App, &rt.Backend, &rt.Cache, &rt.Orch, &rt.Records, &rt.Session, &rt.Registry),
		)

		startCtx, cancelStart := context.WithTimeout(ctx, 10*time.Second)
		defer cancelStart()
		if err := fxApp.Start(startCtx); err != nil {
			logging.Error(ctx, "bootstrap application failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "start fx application")
		}

		defer func() {
			stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelStop()
			if err := fxApp.Stop(stopCtx); err != nil {
				logging.Error(ctx, "fx application stop failed", slog.Any("err", errs.Loggable(err)))
			}
		}()

		if err := run(cmd, &rt); err != nil {
			return errs.Wrap(err, "run command")
		}
		return nil
	}
}

// restoreSession loads the persisted session and re-arms backend tokens.
func restoreSession(ctx context.Context, rt *runtime) error {
	if err := rt.Session.State().Restore(ctx); err != nil {
		return errs.Wrap(err, "restore session")
	}
	sess, found, err := rt.Session.State().ProviderSession(ctx)
	if err != nil {
		return errs.Wrap(err, "load provider token")
	}
	if found {
		rt.Backend.Resume(sess)
	}
	return nil
}
