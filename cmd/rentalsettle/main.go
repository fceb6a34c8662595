package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/samujjwal/rental-sub004/internal/booking"
	"github.com/samujjwal/rental-sub004/internal/clock"
	"github.com/samujjwal/rental-sub004/internal/config"
	"github.com/samujjwal/rental-sub004/internal/deposit"
	"github.com/samujjwal/rental-sub004/internal/dispute"
	"github.com/samujjwal/rental-sub004/internal/ledger"
	"github.com/samujjwal/rental-sub004/internal/locks"
	"github.com/samujjwal/rental-sub004/internal/logger"
	"github.com/samujjwal/rental-sub004/internal/migration"
	"github.com/samujjwal/rental-sub004/internal/notify"
	"github.com/samujjwal/rental-sub004/internal/observability/metrics"
	"github.com/samujjwal/rental-sub004/internal/payment"
	"github.com/samujjwal/rental-sub004/internal/policy"
	"github.com/samujjwal/rental-sub004/internal/seed"
	"github.com/samujjwal/rental-sub004/internal/server"
	"github.com/samujjwal/rental-sub004/internal/settlement"
	"github.com/samujjwal/rental-sub004/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		clock.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		migration.Module,
		seed.Module,
		metrics.Module,

		// Functional domains
		ledger.Module,
		deposit.Module,
		policy.Module,
		notify.Module,
		payment.Module,
		booking.Module,
		dispute.Module,
		locks.Module,

		// Background settlement sweep and the HTTP surface
		settlement.Module,
		server.Module,
	)
	app.Run()
}

func newSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
