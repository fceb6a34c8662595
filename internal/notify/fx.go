package notify

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notify",
	fx.Provide(func(lc fx.Lifecycle, log *zap.Logger) Dispatcher {
		d := NewDispatcher(log)
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				d.Close()
				return nil
			},
		})
		return d
	}),
)
