package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/samujjwal/rental-sub004/internal/booking/domain"
	depositdomain "github.com/samujjwal/rental-sub004/internal/deposit/domain"
	ledgerdomain "github.com/samujjwal/rental-sub004/internal/ledger/domain"
	paymentdomain "github.com/samujjwal/rental-sub004/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const schedulerActor = "scheduler"

// ExpireApprovalsJob cancels requests the owner never answered.
func (o *Orchestrator) ExpireApprovalsJob(ctx context.Context) error {
	return o.expireBookings(ctx, "expire_approvals", bookingdomain.ActionTimeoutApproval, o.repo.ListApprovalExpired)
}

// ExpirePaymentsJob cancels bookings whose payment window lapsed. In-flight
// authorizations still complete; ReconcileLateCapturesJob refunds them.
func (o *Orchestrator) ExpirePaymentsJob(ctx context.Context) error {
	return o.expireBookings(ctx, "expire_payments", bookingdomain.ActionTimeoutPayment, o.repo.ListPaymentExpired)
}

func (o *Orchestrator) expireBookings(
	ctx context.Context,
	job string,
	action bookingdomain.Action,
	list func(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]bookingdomain.Booking, error),
) error {
	var jobErr error
	now := o.clock.Now().UTC()

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		bookings, err := list(ctx, o.db, now, o.cfg.BatchSize)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(bookings) == 0 {
			return jobErr
		}

		processed := 0
		for _, b := range bookings {
			_, err := o.bookings.SystemTransition(ctx, bookingdomain.TransitionRequest{
				BookingID: b.ID,
				Action:    action,
				Actor:     schedulerActor,
				Reason:    "window expired",
			})
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				o.log.Warn("timeout transition failed",
					zap.String("job", job),
					zap.String("booking_id", b.ID.String()),
					zap.Error(err),
				)
				continue
			}
			processed++
		}
		if processed == 0 {
			return jobErr
		}
	}
}

// ConfirmPendingPaymentsJob polls suspended payment intents. Still-pending
// intents back off exponentially; past the retry ceiling the payment is
// marked FAILED and the booking cancelled.
func (o *Orchestrator) ConfirmPendingPaymentsJob(ctx context.Context) error {
	var jobErr error
	now := o.clock.Now().UTC()

	var payments []paymentdomain.Payment
	err := o.db.WithContext(ctx).
		Where("status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
			paymentdomain.MovementPending, now).
		Order("next_attempt_at").
		Limit(o.cfg.BatchSize).
		Find(&payments).Error
	if err != nil {
		return err
	}

	for _, p := range payments {
		booking, err := o.repo.FindByID(ctx, o.db, p.BookingID)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}
		if booking.Status != bookingdomain.StatusPendingPayment {
			// Cancelled while the processor was deciding; the reconcile job
			// owns this row now.
			continue
		}

		_, err = o.bookings.SystemTransition(ctx, bookingdomain.TransitionRequest{
			BookingID: p.BookingID,
			Action:    bookingdomain.ActionConfirmPayment,
			Actor:     schedulerActor,
			Reason:    "payment poll",
		})
		switch {
		case err == nil:
		case errors.Is(err, paymentdomain.ErrExternalPending):
			o.retryCounter("confirm_pending_payments")
			jobErr = errors.Join(jobErr, o.bumpPaymentRetry(ctx, &p, now))
		case errors.Is(err, paymentdomain.ErrExternalFailed):
			// booking service already cancelled and marked the row FAILED
		default:
			jobErr = errors.Join(jobErr, err)
		}
	}
	return jobErr
}

func (o *Orchestrator) bumpPaymentRetry(ctx context.Context, p *paymentdomain.Payment, now time.Time) error {
	attempts := p.Attempts + 1
	if attempts >= o.cfg.RetryCeiling {
		o.surfaceFailure("payment", p.ID, p.BookingID, attempts)
		err := o.db.WithContext(ctx).
			Model(&paymentdomain.Payment{}).
			Where("id = ?", p.ID).
			Updates(map[string]any{
				"status":     paymentdomain.MovementFailed,
				"attempts":   attempts,
				"updated_at": now,
			}).Error
		if err != nil {
			return err
		}
		_, err = o.bookings.SystemTransition(ctx, bookingdomain.TransitionRequest{
			BookingID: p.BookingID,
			Action:    bookingdomain.ActionFailPayment,
			Actor:     schedulerActor,
			Reason:    "payment retries exhausted",
		})
		return err
	}
	return o.db.WithContext(ctx).
		Model(&paymentdomain.Payment{}).
		Where("id = ?", p.ID).
		Updates(map[string]any{
			"attempts":        attempts,
			"next_attempt_at": o.nextAttempt(now, attempts),
			"updated_at":      now,
		}).Error
}

// SettleCompletedJob drives captured COMPLETED bookings to SETTLED. Bookings
// stay in COMPLETED until the dispute filing window has passed, so earnings
// never move while a dispute may still be filed.
func (o *Orchestrator) SettleCompletedJob(ctx context.Context) error {
	var jobErr error
	now := o.clock.Now().UTC()

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		bookings, err := o.repo.ListByStatus(ctx, o.db, bookingdomain.StatusCompleted, o.cfg.BatchSize)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(bookings) == 0 {
			return jobErr
		}

		processed := 0
		for _, b := range bookings {
			captured, err := o.paymentCaptured(ctx, b.ID)
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				continue
			}
			if !captured {
				o.retryCounter("settle_completed")
				continue
			}

			completedAt, err := o.completedAt(ctx, b.ID)
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				continue
			}
			if now.Sub(completedAt) < o.filingWindow {
				continue
			}

			_, err = o.bookings.SystemTransition(ctx, bookingdomain.TransitionRequest{
				BookingID: b.ID,
				Action:    bookingdomain.ActionSettle,
				Actor:     schedulerActor,
				Reason:    "settlement sweep",
			})
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				continue
			}
			processed++
		}
		if processed == 0 {
			return jobErr
		}
	}
}

func (o *Orchestrator) completedAt(ctx context.Context, bookingID snowflake.ID) (time.Time, error) {
	rows, err := o.repo.History(ctx, o.db, bookingID)
	if err != nil {
		return time.Time{}, err
	}
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].ToStatus == bookingdomain.StatusCompleted {
			return rows[i].CreatedAt, nil
		}
	}
	return time.Time{}, fmt.Errorf("booking %s has no completion record", bookingID)
}

func (o *Orchestrator) paymentCaptured(ctx context.Context, bookingID snowflake.ID) (bool, error) {
	var count int64
	err := o.db.WithContext(ctx).
		Model(&paymentdomain.Payment{}).
		Where("booking_id = ? AND status = ?", bookingID, paymentdomain.MovementSucceeded).
		Count(&count).Error
	return count > 0, err
}

// ExecuteRefundsJob pushes queued refunds to the processor.
func (o *Orchestrator) ExecuteRefundsJob(ctx context.Context) error {
	var jobErr error
	now := o.clock.Now().UTC()

	var refunds []paymentdomain.Refund
	err := o.db.WithContext(ctx).
		Where("status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
			paymentdomain.MovementPending, now).
		Order("next_attempt_at").
		Limit(o.cfg.BatchSize).
		Find(&refunds).Error
	if err != nil {
		return err
	}

	for _, r := range refunds {
		_, gwErr := o.gateway.Refund(ctx, r.IdempotencyKey, r.IntentID, r.Amount)
		switch {
		case gwErr == nil:
			if err := o.markMovementDone(ctx, &paymentdomain.Refund{}, r.ID, now); err != nil {
				jobErr = errors.Join(jobErr, err)
				continue
			}
			jobErr = errors.Join(jobErr, o.settleMovementPostings(ctx, r.BookingID, ledgerdomain.TxRefund, now))
		case errors.Is(gwErr, paymentdomain.ErrExternalPending):
			o.retryCounter("execute_refunds")
			jobErr = errors.Join(jobErr, o.bumpMovementRetry(ctx, "refund", ledgerdomain.TxRefund, &paymentdomain.Refund{}, r.ID, r.BookingID, r.Attempts, now))
		case errors.Is(gwErr, paymentdomain.ErrExternalFailed):
			o.surfaceFailure("refund", r.ID, r.BookingID, r.Attempts)
			jobErr = errors.Join(jobErr, o.markMovementFailed(ctx, &paymentdomain.Refund{}, r.ID, now))
			jobErr = errors.Join(jobErr, o.failMovementPostings(ctx, r.BookingID, ledgerdomain.TxRefund))
		default:
			jobErr = errors.Join(jobErr, gwErr)
		}
	}
	return jobErr
}

// ExecutePayoutsJob transfers owner earnings and posts the PAYOUT legs once
// the processor confirms.
func (o *Orchestrator) ExecutePayoutsJob(ctx context.Context) error {
	var jobErr error
	now := o.clock.Now().UTC()

	var payouts []paymentdomain.Payout
	err := o.db.WithContext(ctx).
		Where("status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
			paymentdomain.MovementPending, now).
		Order("next_attempt_at").
		Limit(o.cfg.BatchSize).
		Find(&payouts).Error
	if err != nil {
		return err
	}

	for _, p := range payouts {
		_, gwErr := o.gateway.Transfer(ctx, p.IdempotencyKey, p.OwnerID.String(), p.Amount, p.Currency)
		switch {
		case gwErr == nil:
			postingID, err := o.ledger.Post(ctx, ledgerdomain.PostingRequest{
				BookingID:       p.BookingID,
				TransactionType: ledgerdomain.TxPayout,
				Currency:        p.Currency,
				IdempotencyKey:  fmt.Sprintf("%s:%s:payout-%s", p.BookingID, ledgerdomain.TxPayout, p.ID),
				Legs: []ledgerdomain.Leg{
					{AccountType: ledgerdomain.AccountPayable, Side: ledgerdomain.SideDebit, Amount: p.Amount},
					{AccountType: ledgerdomain.AccountCash, Side: ledgerdomain.SideCredit, Amount: p.Amount},
				},
			})
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				continue
			}
			if err := o.ledger.MarkPostingSettled(ctx, nil, postingID, now); err != nil {
				jobErr = errors.Join(jobErr, err)
				continue
			}
			// Dispute payout adjustments posted at resolution settle with
			// the transfer that realizes them.
			jobErr = errors.Join(jobErr, o.settleMovementPostings(ctx, p.BookingID, ledgerdomain.TxPayout, now))
			jobErr = errors.Join(jobErr, o.markMovementDone(ctx, &paymentdomain.Payout{}, p.ID, now))
		case errors.Is(gwErr, paymentdomain.ErrExternalPending):
			o.retryCounter("execute_payouts")
			jobErr = errors.Join(jobErr, o.bumpMovementRetry(ctx, "payout", ledgerdomain.TxPayout, &paymentdomain.Payout{}, p.ID, p.BookingID, p.Attempts, now))
		case errors.Is(gwErr, paymentdomain.ErrExternalFailed):
			o.surfaceFailure("payout", p.ID, p.BookingID, p.Attempts)
			jobErr = errors.Join(jobErr, o.markMovementFailed(ctx, &paymentdomain.Payout{}, p.ID, now))
			jobErr = errors.Join(jobErr, o.failMovementPostings(ctx, p.BookingID, ledgerdomain.TxPayout))
		default:
			jobErr = errors.Join(jobErr, gwErr)
		}
	}
	return jobErr
}

// ReconcileLateCapturesJob handles authorizations that landed after their
// booking was cancelled: a late success triggers a compensating refund, never
// a silent ledger orphan.
func (o *Orchestrator) ReconcileLateCapturesJob(ctx context.Context) error {
	var jobErr error
	now := o.clock.Now().UTC()

	var payments []paymentdomain.Payment
	err := o.db.WithContext(ctx).Raw(
		`SELECT p.* FROM payments p
		 JOIN bookings b ON b.id = p.booking_id
		 WHERE p.status = 'PENDING' AND b.status = 'CANCELLED'
		 ORDER BY p.created_at
		 LIMIT ?`,
		o.cfg.BatchSize,
	).Scan(&payments).Error
	if err != nil {
		return err
	}

	for _, p := range payments {
		res, gwErr := o.gateway.IntentStatus(ctx, p.IntentID)
		switch {
		case gwErr == nil && res.Status == paymentdomain.MovementSucceeded:
			jobErr = errors.Join(jobErr, o.compensateLateCapture(ctx, p, now))
		case errors.Is(gwErr, paymentdomain.ErrExternalPending):
			o.retryCounter("reconcile_late_captures")
		default:
			jobErr = errors.Join(jobErr, o.markMovementFailed(ctx, &paymentdomain.Payment{}, p.ID, now))
		}
	}
	return jobErr
}

func (o *Orchestrator) compensateLateCapture(ctx context.Context, p paymentdomain.Payment, now time.Time) error {
	return o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.WithContext(ctx).
			Model(&paymentdomain.Payment{}).
			Where("id = ?", p.ID).
			Updates(map[string]any{
				"status":       paymentdomain.MovementSucceeded,
				"processed_at": now,
				"updated_at":   now,
			}).Error
		if err != nil {
			return err
		}

		// The capture itself enters the ledger first; cash actually arrived
		// and the compensating refund below nets the booking back to zero.
		capturePosting, err := o.ledger.PostTx(ctx, tx, ledgerdomain.PostingRequest{
			BookingID:       p.BookingID,
			TransactionType: ledgerdomain.TxPayment,
			Currency:        p.Currency,
			IdempotencyKey:  fmt.Sprintf("%s:%s:late-capture", p.BookingID, ledgerdomain.TxPayment),
			Legs: []ledgerdomain.Leg{
				{AccountType: ledgerdomain.AccountCash, Side: ledgerdomain.SideDebit, Amount: p.Amount},
				{AccountType: ledgerdomain.AccountLiability, Side: ledgerdomain.SideCredit, Amount: p.Amount},
			},
		})
		if err != nil {
			return err
		}
		if err := o.ledger.MarkPostingSettled(ctx, tx, capturePosting, now); err != nil {
			return err
		}

		_, err = o.ledger.PostTx(ctx, tx, ledgerdomain.PostingRequest{
			BookingID:       p.BookingID,
			TransactionType: ledgerdomain.TxRefund,
			Currency:        p.Currency,
			IdempotencyKey:  fmt.Sprintf("%s:%s:late-capture", p.BookingID, ledgerdomain.TxRefund),
			Legs: []ledgerdomain.Leg{
				{AccountType: ledgerdomain.AccountLiability, Side: ledgerdomain.SideDebit, Amount: p.Amount},
				{AccountType: ledgerdomain.AccountCash, Side: ledgerdomain.SideCredit, Amount: p.Amount},
			},
		})
		if err != nil {
			return err
		}

		refund := paymentdomain.Refund{
			ID:             o.genID.Generate(),
			BookingID:      p.BookingID,
			IntentID:       p.IntentID,
			IdempotencyKey: fmt.Sprintf("%s:REFUND_ROW:late-capture", p.BookingID),
			Amount:         p.Amount,
			Currency:       p.Currency,
			Reason:         "late capture after cancellation",
			Status:         paymentdomain.MovementPending,
			NextAttemptAt:  &now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return tx.WithContext(ctx).Create(&refund).Error
	})
}

// ReconcileAbandonedHoldsJob forfeits deposit holds still AUTHORIZED on a
// booking that already reached a terminal status. Terminal transitions release
// or capture the hold in the same transaction, so a surviving hold means that
// bookkeeping was lost; the remaining amount is recorded as forfeited.
func (o *Orchestrator) ReconcileAbandonedHoldsJob(ctx context.Context) error {
	var holds []depositdomain.DepositHold
	err := o.db.WithContext(ctx).Raw(
		`SELECT h.* FROM deposit_holds h
		 JOIN bookings b ON b.id = h.booking_id
		 WHERE h.status = 'AUTHORIZED'
		   AND b.status IN ('CANCELLED', 'REFUNDED', 'SETTLED')
		 ORDER BY h.created_at
		 LIMIT ?`,
		o.cfg.BatchSize,
	).Scan(&holds).Error
	if err != nil {
		return err
	}

	var jobErr error
	for _, h := range holds {
		err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return o.deposit.ForfeitTx(ctx, tx, h.ID, depositdomain.HoldExpired)
		})
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}
		o.log.Warn("abandoned deposit hold forfeited",
			zap.String("hold_id", h.ID.String()),
			zap.String("booking_id", h.BookingID.String()),
			zap.Int64("amount", h.Remaining()),
		)
		if o.metrics != nil {
			o.metrics.SettlementFailures.WithLabelValues("reconcile_abandoned_holds").Inc()
		}
	}
	return jobErr
}

// ReconcileStalePostingsJob is the reconciliation report: pending ledger
// entries older than the threshold are surfaced, never dropped.
func (o *Orchestrator) ReconcileStalePostingsJob(ctx context.Context) error {
	cutoff := o.clock.Now().UTC().Add(-o.cfg.StaleThreshold)
	postings, err := o.ledger.PendingOlderThan(ctx, cutoff, o.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, p := range postings {
		o.log.Warn("ledger posting pending past threshold",
			zap.String("posting_id", p.ID.String()),
			zap.String("booking_id", p.BookingID.String()),
			zap.String("transaction_type", string(p.TransactionType)),
			zap.Time("created_at", p.CreatedAt),
		)
		if o.metrics != nil {
			o.metrics.SettlementRetries.WithLabelValues("reconcile_stale_postings").Inc()
		}
	}
	return nil
}

func (o *Orchestrator) markMovementDone(ctx context.Context, model any, id snowflake.ID, now time.Time) error {
	return o.db.WithContext(ctx).
		Model(model).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       paymentdomain.MovementSucceeded,
			"processed_at": now,
			"updated_at":   now,
		}).Error
}

func (o *Orchestrator) markMovementFailed(ctx context.Context, model any, id snowflake.ID, now time.Time) error {
	return o.db.WithContext(ctx).
		Model(model).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       paymentdomain.MovementFailed,
			"processed_at": now,
			"updated_at":   now,
		}).Error
}

func (o *Orchestrator) bumpMovementRetry(ctx context.Context, kind string, txType ledgerdomain.TransactionType, model any, id, bookingID snowflake.ID, attempts int, now time.Time) error {
	attempts++
	if attempts >= o.cfg.RetryCeiling {
		o.surfaceFailure(kind, id, bookingID, attempts)
		if err := o.markMovementFailed(ctx, model, id, now); err != nil {
			return err
		}
		return o.failMovementPostings(ctx, bookingID, txType)
	}
	return o.db.WithContext(ctx).
		Model(model).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":        attempts,
			"next_attempt_at": o.nextAttempt(now, attempts),
			"updated_at":      now,
		}).Error
}

func (o *Orchestrator) surfaceFailure(kind string, id, bookingID snowflake.ID, attempts int) {
	if o.metrics != nil {
		o.metrics.SettlementFailures.WithLabelValues(kind).Inc()
	}
	o.log.Error("money movement failed, operator intervention required",
		zap.String("kind", kind),
		zap.String("id", id.String()),
		zap.String("booking_id", bookingID.String()),
		zap.Int("attempts", attempts),
	)
}

func (o *Orchestrator) settleMovementPostings(ctx context.Context, bookingID snowflake.ID, txType ledgerdomain.TransactionType, now time.Time) error {
	return o.db.WithContext(ctx).
		Model(&ledgerdomain.LedgerEntry{}).
		Where("booking_id = ? AND transaction_type = ? AND status = ?",
			bookingID, txType, ledgerdomain.EntryPending).
		Updates(map[string]any{"status": ledgerdomain.EntrySettled, "settled_at": now}).Error
}

// failMovementPostings marks the pending legs behind a dead money movement
// FAILED, removing them from the booking balance.
func (o *Orchestrator) failMovementPostings(ctx context.Context, bookingID snowflake.ID, txType ledgerdomain.TransactionType) error {
	var postingIDs []snowflake.ID
	err := o.db.WithContext(ctx).Raw(
		`SELECT DISTINCT posting_id FROM ledger_entries
		 WHERE booking_id = ? AND transaction_type = ? AND status = 'PENDING'`,
		bookingID, string(txType),
	).Scan(&postingIDs).Error
	if err != nil {
		return err
	}
	for _, id := range postingIDs {
		if err := o.ledger.MarkPostingFailed(ctx, nil, id); err != nil {
			return err
		}
	}
	return nil
}
