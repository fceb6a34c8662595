package ledger

import (
	"github.com/samujjwal/rental-sub004/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(service.NewService),
)
