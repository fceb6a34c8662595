package locks

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/samujjwal/rental-sub004/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("locks",
	fx.Provide(provideClient),
	fx.Provide(NewLocker),
)

func provideClient(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}
