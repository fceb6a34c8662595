// Package settlement drives bookings from COMPLETED to SETTLED and executes
// queued money movements against the processor. It runs as a periodic sweep;
// entries that cannot be confirmed are retried with exponential backoff up
// to a ceiling, then marked FAILED and surfaced for operator intervention.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/samujjwal/rental-sub004/internal/booking/domain"
	"github.com/samujjwal/rental-sub004/internal/clock"
	"github.com/samujjwal/rental-sub004/internal/config"
	depositdomain "github.com/samujjwal/rental-sub004/internal/deposit/domain"
	ledgerdomain "github.com/samujjwal/rental-sub004/internal/ledger/domain"
	obsmetrics "github.com/samujjwal/rental-sub004/internal/observability/metrics"
	"github.com/samujjwal/rental-sub004/internal/payment/gateway"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Config   config.Config
	Clock    clock.Clock
	Bookings bookingdomain.Service
	Repo     bookingdomain.Repository
	Ledger   ledgerdomain.Service
	Deposit  depositdomain.Service
	Gateway  gateway.Gateway
	Metrics  *obsmetrics.Engine       `optional:"true"`
}

type Orchestrator struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	cfg          config.SettlementConfig
	filingWindow time.Duration
	clock        clock.Clock
	bookings     bookingdomain.Service
	repo         bookingdomain.Repository
	ledger       ledgerdomain.Service
	deposit      depositdomain.Service
	gateway      gateway.Gateway
	metrics      *obsmetrics.Engine
}

func New(p Params) *Orchestrator {
	return &Orchestrator{
		db:           p.DB,
		log:          p.Log.Named("settlement"),
		genID:        p.GenID,
		cfg:          p.Config.Settlement,
		filingWindow: p.Config.DisputeFilingWindow,
		clock:        p.Clock,
		bookings:     p.Bookings,
		repo:         p.Repo,
		ledger:       p.Ledger,
		deposit:      p.Deposit,
		gateway:      p.Gateway,
		metrics:      p.Metrics,
	}
}

func (o *Orchestrator) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	err := fn(ctx)
	if o.metrics != nil {
		o.metrics.SweepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		o.log.Warn("sweep job timed out", zap.String("job", name), zap.Error(err))
		return nil
	}
	if o.metrics != nil {
		o.metrics.SettlementFailures.WithLabelValues(name).Inc()
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes every sweep job once and joins their errors.
func (o *Orchestrator) RunOnce(parent context.Context) error {
	jobs := []struct {
		name string
		run  func(context.Context) error
	}{
		{"expire_approvals", o.ExpireApprovalsJob},
		{"expire_payments", o.ExpirePaymentsJob},
		{"confirm_pending_payments", o.ConfirmPendingPaymentsJob},
		{"settle_completed", o.SettleCompletedJob},
		{"execute_refunds", o.ExecuteRefundsJob},
		{"execute_payouts", o.ExecutePayoutsJob},
		{"reconcile_late_captures", o.ReconcileLateCapturesJob},
		{"reconcile_abandoned_holds", o.ReconcileAbandonedHoldsJob},
		{"reconcile_stale_postings", o.ReconcileStalePostingsJob},
	}

	var err error
	for _, job := range jobs {
		err = errors.Join(err, o.runJob(parent, job.name, 30*time.Second, job.run))
	}
	return err
}

func (o *Orchestrator) RunForever(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := o.RunOnce(ctx); err != nil {
			o.log.Warn("settlement sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// nextAttempt computes the exponential backoff for the given attempt count.
func (o *Orchestrator) nextAttempt(now time.Time, attempts int) time.Time {
	backoff := o.cfg.RetryBase
	for i := 0; i < attempts && backoff < 24*time.Hour; i++ {
		backoff *= 2
	}
	return now.Add(backoff)
}

func (o *Orchestrator) retryCounter(job string) {
	if o.metrics != nil {
		o.metrics.SettlementRetries.WithLabelValues(job).Inc()
	}
}
