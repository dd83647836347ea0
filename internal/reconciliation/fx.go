package reconciliation

import (
	"context"

	"github.com/smallbiznis/agencyledger/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("reconciliation",
	fx.Provide(NewReconciler),
	fx.Provide(NewRunner),
	fx.Invoke(startRunner),
)

func startRunner(lc fx.Lifecycle, cfg config.Config, runner *Runner) {
	if !cfg.ReconcileEnabled {
		return
	}

	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go runner.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}
