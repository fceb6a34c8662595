// Command sweeper runs the settlement sweep on a cron cadence without the
// HTTP surface. Deployments that scale the API horizontally run exactly one
// sweeper instead of the in-process sweep.
package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/samujjwal/rental-sub004/internal/booking"
	"github.com/samujjwal/rental-sub004/internal/clock"
	"github.com/samujjwal/rental-sub004/internal/config"
	"github.com/samujjwal/rental-sub004/internal/deposit"
	"github.com/samujjwal/rental-sub004/internal/ledger"
	"github.com/samujjwal/rental-sub004/internal/logger"
	"github.com/samujjwal/rental-sub004/internal/migration"
	"github.com/samujjwal/rental-sub004/internal/notify"
	"github.com/samujjwal/rental-sub004/internal/observability/metrics"
	"github.com/samujjwal/rental-sub004/internal/payment"
	"github.com/samujjwal/rental-sub004/internal/policy"
	"github.com/samujjwal/rental-sub004/internal/settlement"
	"github.com/samujjwal/rental-sub004/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	runOnce := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	opts := []fx.Option{
		config.Module,
		logger.Module,
		clock.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		migration.Module,
		metrics.Module,

		ledger.Module,
		deposit.Module,
		policy.Module,
		notify.Module,
		payment.Module,
		booking.Module,

		fx.Provide(settlement.New),
	}

	if *runOnce {
		opts = append(opts, fx.Invoke(func(o *settlement.Orchestrator, log *zap.Logger, shutdowner fx.Shutdowner) {
			go func() {
				if err := o.RunOnce(context.Background()); err != nil {
					log.Warn("sweep finished with errors", zap.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()
		}))
	} else {
		opts = append(opts, fx.Invoke(runCron))
	}

	fx.New(opts...).Run()
}

func runCron(lc fx.Lifecycle, cfg config.Config, o *settlement.Orchestrator, log *zap.Logger) error {
	log = log.Named("sweeper")

	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", cfg.Settlement.RunInterval), func() {
		if err := o.RunOnce(context.Background()); err != nil {
			log.Warn("sweep finished with errors", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			c.Start()
			log.Info("sweeper started", zap.Duration("interval", cfg.Settlement.RunInterval))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopped := c.Stop()
			select {
			case <-stopped.Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
	return nil
}

func newSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(2)
}
