package dispute

import (
	"github.com/samujjwal/rental-sub004/internal/dispute/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dispute.service",
	fx.Provide(service.NewService),
)
