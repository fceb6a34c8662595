package settlement

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("settlement",
	fx.Provide(New),
	fx.Invoke(runSweep),
)

func runSweep(lc fx.Lifecycle, o *Orchestrator) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go o.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
			return nil
		},
	})
}
