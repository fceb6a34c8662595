package seed

import (
	"github.com/bwmarrin/snowflake"
	"github.com/samujjwal/rental-sub004/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module seeds demo data in development only.
var Module = fx.Module("seed",
	fx.Invoke(func(cfg config.Config, conn *gorm.DB, node *snowflake.Node, log *zap.Logger) error {
		if cfg.Environment != "development" {
			return nil
		}
		if err := EnsureDemoBooking(conn, node); err != nil {
			return err
		}
		log.Info("development seed applied")
		return nil
	}),
)
