package adapters

import (
	"strings"

	"github.com/samujjwal/rental-sub004/internal/payment/domain"
	"github.com/samujjwal/rental-sub004/internal/payment/gateway"
)

type Registry struct {
	factories map[string]gateway.Factory
}

func NewRegistry(factories ...gateway.Factory) *Registry {
	registry := &Registry{factories: map[string]gateway.Factory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(factory.Provider()))
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	_, ok := r.factories[provider]
	return ok
}

func (r *Registry) NewGateway(provider string, cfg gateway.Config) (gateway.Gateway, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	factory, ok := r.factories[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return factory.New(cfg)
}
