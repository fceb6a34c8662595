package payment

import (
	"github.com/samujjwal/rental-sub004/internal/config"
	"github.com/samujjwal/rental-sub004/internal/payment/adapters"
	"github.com/samujjwal/rental-sub004/internal/payment/adapters/sandbox"
	"github.com/samujjwal/rental-sub004/internal/payment/gateway"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(
		newRegistry,
		newGateway,
	),
)

func newRegistry() *adapters.Registry {
	return adapters.NewRegistry(
		sandbox.Factory(),
	)
}

func newGateway(cfg config.Config, registry *adapters.Registry) (gateway.Gateway, error) {
	return registry.NewGateway(cfg.PaymentProvider, gateway.Config{
		APIKey:   cfg.PaymentAPIKey,
		Endpoint: cfg.PaymentEndpoint,
	})
}
