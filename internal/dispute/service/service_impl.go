package service

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
	disputedomain "github.com/samujjwal/rental-sub004/internal/dispute/domain"
	ledgerdomain "github.com/samujjwal/rental-sub004/internal/ledger/domain"
	paymentdomain "github.com/samujjwal/rental-sub004/internal/payment/domain"
	"github.com/samujjwal/rental-sub004/pkg/db"
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
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	cfg      config.Config
	clock    clock.Clock
	bookings bookingdomain.Service
	repo     bookingdomain.Repository
	ledger   ledgerdomain.Service
	deposit  depositdomain.Service
}

func NewService(p Params) disputedomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("dispute.service"),
		genID:    p.GenID,
		cfg:      p.Config,
		clock:    p.Clock,
		bookings: p.Bookings,
		repo:     p.Repo,
		ledger:   p.Ledger,
		deposit:  p.Deposit,
	}
}

func (s *Service) Open(ctx context.Context, req disputedomain.OpenRequest) (*disputedomain.Dispute, error) {
	if req.ClaimedAmount <= 0 {
		return nil, disputedomain.ErrInvalidAmount
	}

	var dispute *disputedomain.Dispute
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		booking, err := s.repo.FindByIDForUpdate(ctx, tx, req.BookingID)
		if err != nil {
			return err
		}
		if err := s.checkDisputable(ctx, tx, booking); err != nil {
			return err
		}

		// Uniqueness check, not a lock: one open dispute per booking.
		var open int64
		err = tx.WithContext(ctx).
			Model(&disputedomain.Dispute{}).
			Where("booking_id = ? AND status NOT IN ?", booking.ID,
				[]disputedomain.Status{disputedomain.StatusResolved, disputedomain.StatusClosed}).
			Count(&open).Error
		if err != nil {
			return err
		}
		if open > 0 {
			return disputedomain.ErrDisputeAlreadyOpen
		}

		now := s.clock.Now().UTC()
		priority := disputedomain.PriorityFor(req.ClaimedAmount)
		d := disputedomain.Dispute{
			ID:            s.genID.Generate(),
			BookingID:     booking.ID,
			InitiatorID:   req.InitiatorID,
			DefendantID:   req.DefendantID,
			Type:          req.Type,
			ClaimedAmount: req.ClaimedAmount,
			Currency:      booking.Currency,
			Description:   req.Description,
			Status:        disputedomain.StatusOpen,
			Priority:      priority,
			SLADeadline:   now.Add(disputedomain.SLAWindow(priority)),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.WithContext(ctx).Create(&d).Error; err != nil {
			return err
		}

		_, err = s.bookings.ForceTransitionTx(ctx, tx, bookingdomain.TransitionRequest{
			BookingID: booking.ID,
			Action:    bookingdomain.ActionOpenDispute,
			Actor:     req.InitiatorID.String(),
			Reason:    req.Description,
		})
		if err != nil {
			return fmt.Errorf("force dispute transition: %w", err)
		}
		dispute = &d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("dispute opened",
		zap.String("dispute_id", dispute.ID.String()),
		zap.String("booking_id", dispute.BookingID.String()),
		zap.String("priority", string(dispute.Priority)),
		zap.Int64("claimed_amount", dispute.ClaimedAmount),
	)
	return dispute, nil
}

func (s *Service) checkDisputable(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking) error {
	switch booking.Status {
	case bookingdomain.StatusAwaitingReturnInspection:
		return nil
	case bookingdomain.StatusCompleted:
		completedAt, err := s.completedAt(ctx, tx, booking.ID)
		if err != nil {
			return err
		}
		if s.clock.Now().UTC().After(completedAt.Add(s.cfg.DisputeFilingWindow)) {
			return disputedomain.ErrFilingWindowClosed
		}
		return nil
	}
	return disputedomain.ErrBookingNotDisputable
}

func (s *Service) completedAt(ctx context.Context, tx *gorm.DB, bookingID snowflake.ID) (time.Time, error) {
	rows, err := s.repo.History(ctx, tx, bookingID)
	if err != nil {
		return time.Time{}, err
	}
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].ToStatus == bookingdomain.StatusCompleted {
			return rows[i].CreatedAt, nil
		}
	}
	return time.Time{}, disputedomain.ErrBookingNotDisputable
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*disputedomain.Dispute, *disputedomain.Resolution, error) {
	var dispute disputedomain.Dispute
	err := s.db.WithContext(ctx).First(&dispute, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, disputedomain.ErrDisputeNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	var resolution disputedomain.Resolution
	err = s.db.WithContext(ctx).First(&resolution, "dispute_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &dispute, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return &dispute, &resolution, nil
}

func (s *Service) Assign(ctx context.Context, id snowflake.ID, assignee string) (*disputedomain.Dispute, error) {
	var dispute *disputedomain.Dispute
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := s.lockDispute(ctx, tx, id)
		if err != nil {
			return err
		}
		if d.Status.Terminal() {
			return disputedomain.ErrAlreadyResolved
		}

		updates := map[string]any{
			"assigned_to": assignee,
			"updated_at":  s.clock.Now().UTC(),
		}
		if d.Status == disputedomain.StatusOpen {
			updates["status"] = disputedomain.StatusUnderReview
			d.Status = disputedomain.StatusUnderReview
		}
		if err := tx.WithContext(ctx).Model(&disputedomain.Dispute{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		d.AssignedTo = assignee
		dispute = d
		return nil
	})
	return dispute, err
}

func (s *Service) Move(ctx context.Context, id snowflake.ID, to disputedomain.Status) (*disputedomain.Dispute, error) {
	var dispute *disputedomain.Dispute
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := s.lockDispute(ctx, tx, id)
		if err != nil {
			return err
		}
		if !disputedomain.CanMove(d.Status, to) {
			return disputedomain.ErrInvalidStatusChange
		}
		err = tx.WithContext(ctx).
			Model(&disputedomain.Dispute{}).
			Where("id = ?", id).
			Updates(map[string]any{"status": to, "updated_at": s.clock.Now().UTC()}).Error
		if err != nil {
			return err
		}
		d.Status = to
		dispute = d
		return nil
	})
	return dispute, err
}

// Resolve is a single atomic operation: resolution row, compensating ledger
// legs, deposit deduction for damage outcomes, then the booking transition.
// If the booking transition fails everything rolls back.
func (s *Service) Resolve(ctx context.Context, req disputedomain.ResolveRequest) (*disputedomain.Resolution, error) {
	if req.Outcome == "" {
		return nil, disputedomain.ErrInvalidOutcome
	}
	if req.RefundAmount < 0 {
		return nil, disputedomain.ErrInvalidAmount
	}

	var resolution *disputedomain.Resolution
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := s.lockDispute(ctx, tx, req.DisputeID)
		if err != nil {
			return err
		}
		if d.Status.Terminal() {
			return disputedomain.ErrAlreadyResolved
		}

		booking, err := s.repo.FindByIDForUpdate(ctx, tx, d.BookingID)
		if err != nil {
			return err
		}

		if err := s.applyAmounts(ctx, tx, d, booking, req); err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		r := disputedomain.Resolution{
			ID:               s.genID.Generate(),
			DisputeID:        d.ID,
			Outcome:          req.Outcome,
			RefundAmount:     req.RefundAmount,
			PayoutAdjustment: req.PayoutAdjustment,
			ResolvedBy:       req.ResolvedBy,
			Notes:            req.Notes,
			CreatedAt:        now,
		}
		if err := tx.WithContext(ctx).Create(&r).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return disputedomain.ErrAlreadyResolved
			}
			return err
		}

		final := disputedomain.StatusResolved
		if req.Outcome == disputedomain.OutcomeCancelled || req.Outcome == disputedomain.OutcomeNoAction {
			final = disputedomain.StatusClosed
		}
		err = tx.WithContext(ctx).
			Model(&disputedomain.Dispute{}).
			Where("id = ?", d.ID).
			Updates(map[string]any{"status": final, "updated_at": now}).Error
		if err != nil {
			return err
		}

		action := bookingdomain.ActionResolveSettle
		if req.Outcome == disputedomain.OutcomeFavorInitiator {
			action = bookingdomain.ActionResolveRefund
		}
		_, err = s.bookings.ForceTransitionTx(ctx, tx, bookingdomain.TransitionRequest{
			BookingID: d.BookingID,
			Action:    action,
			Actor:     req.ResolvedBy,
			Reason:    string(req.Outcome),
		})
		if err != nil {
			return fmt.Errorf("force resolution transition: %w", err)
		}

		// Full refund to the initiator returns the deposit too. The settle
		// path marks its legs inside applySettlement; the refund path owns
		// its own ledger finalization here.
		if action == bookingdomain.ActionResolveRefund {
			if booking.DepositHoldID != nil {
				err := s.deposit.ReleaseTx(ctx, tx, *booking.DepositHoldID)
				if err != nil && !errors.Is(err, depositdomain.ErrHoldNotActive) {
					return fmt.Errorf("release deposit: %w", err)
				}
			}
			err = s.ledger.SettlePendingByBooking(ctx, tx, d.BookingID, now,
				ledgerdomain.TxRefund, ledgerdomain.TxPayout)
			if err != nil {
				return fmt.Errorf("settle ledger entries: %w", err)
			}
		}

		resolution = &r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("dispute resolved",
		zap.String("dispute_id", req.DisputeID.String()),
		zap.String("outcome", string(req.Outcome)),
		zap.Int64("refund_amount", req.RefundAmount),
		zap.Int64("payout_adjustment", req.PayoutAdjustment),
	)
	return resolution, nil
}

// applyAmounts posts the money side of a resolution. Damage claims come out
// of the deposit hold; anything else refunds the renter through the
// processor via a pending refund row.
func (s *Service) applyAmounts(ctx context.Context, tx *gorm.DB, d *disputedomain.Dispute, booking *bookingdomain.Booking, req disputedomain.ResolveRequest) error {
	now := s.clock.Now().UTC()

	if req.RefundAmount > 0 {
		if d.Type == disputedomain.TypeDamage && booking.DepositHoldID != nil {
			err := s.deposit.DeductTx(ctx, tx, *booking.DepositHoldID, req.RefundAmount,
				fmt.Sprintf("dispute %s", d.ID))
			if err != nil {
				return fmt.Errorf("deduct deposit: %w", err)
			}
		} else {
			_, err := s.ledger.PostTx(ctx, tx, ledgerdomain.PostingRequest{
				BookingID:       booking.ID,
				TransactionType: ledgerdomain.TxRefund,
				Currency:        booking.Currency,
				IdempotencyKey:  fmt.Sprintf("%s:%s:dispute-%s", booking.ID, ledgerdomain.TxRefund, d.ID),
				Legs: []ledgerdomain.Leg{
					{AccountType: ledgerdomain.AccountLiability, Side: ledgerdomain.SideDebit, Amount: req.RefundAmount},
					{AccountType: ledgerdomain.AccountCash, Side: ledgerdomain.SideCredit, Amount: req.RefundAmount},
				},
			})
			if err != nil {
				return fmt.Errorf("post dispute refund: %w", err)
			}

			refund := paymentdomain.Refund{
				ID:             s.genID.Generate(),
				BookingID:      booking.ID,
				IntentID:       booking.PaymentIntentID,
				IdempotencyKey: fmt.Sprintf("%s:REFUND_ROW:dispute-%s", booking.ID, d.ID),
				Amount:         req.RefundAmount,
				Currency:       booking.Currency,
				Reason:         fmt.Sprintf("dispute %s", d.ID),
				Status:         paymentdomain.MovementPending,
				NextAttemptAt:  &now,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := tx.WithContext(ctx).Create(&refund).Error; err != nil {
				return err
			}
		}
	}

	if req.PayoutAdjustment != 0 {
		legs := []ledgerdomain.Leg{
			{AccountType: ledgerdomain.AccountLiability, Side: ledgerdomain.SideDebit, Amount: req.PayoutAdjustment},
			{AccountType: ledgerdomain.AccountPayable, Side: ledgerdomain.SideCredit, Amount: req.PayoutAdjustment},
		}
		if req.PayoutAdjustment < 0 {
			amount := -req.PayoutAdjustment
			legs = []ledgerdomain.Leg{
				{AccountType: ledgerdomain.AccountPayable, Side: ledgerdomain.SideDebit, Amount: amount},
				{AccountType: ledgerdomain.AccountLiability, Side: ledgerdomain.SideCredit, Amount: amount},
			}
		}
		_, err := s.ledger.PostTx(ctx, tx, ledgerdomain.PostingRequest{
			BookingID:       booking.ID,
			TransactionType: ledgerdomain.TxPayout,
			Currency:        booking.Currency,
			IdempotencyKey:  fmt.Sprintf("%s:%s:dispute-%s", booking.ID, ledgerdomain.TxPayout, d.ID),
			Legs:            legs,
		})
		if err != nil {
			return fmt.Errorf("post payout adjustment: %w", err)
		}
	}
	return nil
}

func (s *Service) lockDispute(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*disputedomain.Dispute, error) {
	var dispute disputedomain.Dispute
	err := db.ForUpdate(tx.WithContext(ctx)).First(&dispute, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, disputedomain.ErrDisputeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}
