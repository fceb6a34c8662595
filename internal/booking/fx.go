package booking

import (
	"github.com/samujjwal/rental-sub004/internal/booking/repository"
	"github.com/samujjwal/rental-sub004/internal/booking/service"
	"go.uber.org/fx"
)

var Module = fx.Module("booking.service",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
