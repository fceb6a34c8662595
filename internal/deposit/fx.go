package deposit

import (
	"github.com/samujjwal/rental-sub004/internal/deposit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("deposit.service",
	fx.Provide(service.NewService),
)
