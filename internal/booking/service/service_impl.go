package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/samujjwal/rental-sub004/internal/booking/domain"
	"github.com/samujjwal/rental-sub004/internal/clock"
	"github.com/samujjwal/rental-sub004/internal/config"
	depositdomain "github.com/samujjwal/rental-sub004/internal/deposit/domain"
	ledgerdomain "github.com/samujjwal/rental-sub004/internal/ledger/domain"
	"github.com/samujjwal/rental-sub004/internal/notify"
	obsmetrics "github.com/samujjwal/rental-sub004/internal/observability/metrics"
	paymentdomain "github.com/samujjwal/rental-sub004/internal/payment/domain"
	"github.com/samujjwal/rental-sub004/internal/payment/gateway"
	"github.com/samujjwal/rental-sub004/internal/policy"
	"github.com/samujjwal/rental-sub004/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Config  config.Config
	Clock   clock.Clock
	Repo    bookingdomain.Repository
	Ledger  ledgerdomain.Service
	Deposit depositdomain.Service
	Policy  policy.Evaluator
	Gateway gateway.Gateway
	Notify  notify.Dispatcher        `optional:"true"`
	Metrics *obsmetrics.Engine       `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	cfg     config.Config
	clock   clock.Clock
	repo    bookingdomain.Repository
	ledger  ledgerdomain.Service
	deposit depositdomain.Service
	policy  policy.Evaluator
	gateway gateway.Gateway
	notify  notify.Dispatcher
	metrics *obsmetrics.Engine
}

func NewService(p Params) bookingdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("booking.service"),
		genID:   p.GenID,
		cfg:     p.Config,
		clock:   p.Clock,
		repo:    p.Repo,
		ledger:  p.Ledger,
		deposit: p.Deposit,
		policy:  p.Policy,
		gateway: p.Gateway,
		notify:  p.Notify,
		metrics: p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req bookingdomain.CreateRequest) (*bookingdomain.Booking, error) {
	now := s.clock.Now().UTC()
	booking := &bookingdomain.Booking{
		ID:                 s.genID.Generate(),
		ListingID:          req.ListingID,
		RenterID:           req.RenterID,
		OwnerID:            req.OwnerID,
		StartAt:            req.StartAt.UTC(),
		EndAt:              req.EndAt.UTC(),
		GuestCount:         req.GuestCount,
		BasePrice:          req.BasePrice,
		ServiceFee:         req.ServiceFee,
		Tax:                req.Tax,
		DiscountAmount:     req.DiscountAmount,
		DepositAmount:      req.DepositAmount,
		TotalPrice:         req.BasePrice + req.ServiceFee + req.Tax - req.DiscountAmount,
		OwnerEarnings:      req.OwnerEarnings,
		PlatformFee:        req.PlatformFee,
		Currency:           req.Currency,
		Status:             bookingdomain.StatusDraft,
		Mode:               req.Mode,
		CancellationPolicy: req.CancellationPolicy,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if booking.Mode == "" {
		booking.Mode = bookingdomain.ModeRequestToBook
	}
	if booking.CancellationPolicy == "" {
		booking.CancellationPolicy = string(policy.TierModerate)
	}
	if booking.GuestCount <= 0 {
		booking.GuestCount = 1
	}
	if err := booking.ValidatePricing(); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.Insert(ctx, tx, booking)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("booking created",
		zap.String("booking_id", booking.ID.String()),
		zap.String("mode", string(booking.Mode)),
		zap.Int64("total_price", booking.TotalPrice),
	)
	return booking, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*bookingdomain.Booking, error) {
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) History(ctx context.Context, id snowflake.ID) ([]bookingdomain.StateHistory, error) {
	return s.repo.History(ctx, s.db, id)
}

func (s *Service) Transition(ctx context.Context, req bookingdomain.TransitionRequest) (*bookingdomain.Booking, error) {
	if bookingdomain.Restricted(req.Action) {
		return nil, bookingdomain.ErrActionRestricted
	}
	return s.transition(ctx, req)
}

func (s *Service) SystemTransition(ctx context.Context, req bookingdomain.TransitionRequest) (*bookingdomain.Booking, error) {
	return s.transition(ctx, req)
}

func (s *Service) transition(ctx context.Context, req bookingdomain.TransitionRequest) (*bookingdomain.Booking, error) {
	// Gateway calls never run inside the transition transaction. Payment
	// confirmation authorizes first, then applies the edge.
	if req.Action == bookingdomain.ActionConfirmPayment {
		return s.confirmPayment(ctx, req)
	}

	booking, err := s.applyEdge(ctx, req, nil)
	if err != nil {
		s.failMetric(req.Action, err)
		return nil, err
	}
	s.afterTransition(booking, req)
	return booking, nil
}

// authResult carries the processor outcome into the edge's side effects.
type authResult struct {
	intentID string
	authRef  string
}

func (s *Service) confirmPayment(ctx context.Context, req bookingdomain.TransitionRequest) (*bookingdomain.Booking, error) {
	booking, err := s.repo.FindByID(ctx, s.db, req.BookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != bookingdomain.StatusPendingPayment {
		return nil, bookingdomain.ErrInvalidTransition
	}

	charge := booking.TotalPrice + booking.DepositAmount

	// A payment left PENDING by an earlier attempt is polled, not
	// re-authorized; fresh confirmations authorize with a stable key so
	// crashed retries never double-charge.
	var res gateway.Result
	var gwErr error
	var suspended paymentdomain.Payment
	findErr := s.db.WithContext(ctx).
		First(&suspended, "booking_id = ? AND status = ?", booking.ID, paymentdomain.MovementPending).Error
	switch {
	case findErr == nil:
		res, gwErr = s.gateway.IntentStatus(ctx, suspended.IntentID)
	case errors.Is(findErr, gorm.ErrRecordNotFound):
		key := postingKey(booking.ID, "AUTHORIZE", 1)
		res, gwErr = s.gateway.Authorize(ctx, key, booking.ID.String(), charge, booking.Currency)
	default:
		return nil, findErr
	}

	switch {
	case errors.Is(gwErr, paymentdomain.ErrExternalPending):
		// Valid suspension: the booking stays in PENDING_PAYMENT and the
		// settlement sweep polls the intent.
		if err := s.recordPayment(ctx, booking, res.Reference, charge, paymentdomain.MovementPending); err != nil {
			return nil, err
		}
		return booking, paymentdomain.ErrExternalPending
	case errors.Is(gwErr, paymentdomain.ErrExternalFailed):
		if err := s.recordPayment(ctx, booking, res.Reference, charge, paymentdomain.MovementFailed); err != nil {
			return nil, err
		}
		cancelled, err := s.applyEdge(ctx, bookingdomain.TransitionRequest{
			BookingID: booking.ID,
			Action:    bookingdomain.ActionFailPayment,
			Actor:     req.Actor,
			Reason:    "payment declined",
		}, nil)
		if err != nil {
			return nil, err
		}
		s.afterTransition(cancelled, req)
		return cancelled, paymentdomain.ErrExternalFailed
	case gwErr != nil:
		return nil, fmt.Errorf("authorize payment: %w", gwErr)
	}

	booking, err = s.applyEdge(ctx, req, &authResult{intentID: res.Reference, authRef: res.Reference})
	if err != nil {
		s.failMetric(req.Action, err)
		return nil, err
	}
	s.afterTransition(booking, req)
	return booking, nil
}

func (s *Service) ForceTransitionTx(ctx context.Context, tx *gorm.DB, req bookingdomain.TransitionRequest) (*bookingdomain.Booking, error) {
	booking, err := s.repo.FindByIDForUpdate(ctx, tx, req.BookingID)
	if err != nil {
		return nil, err
	}
	to, err := bookingdomain.Next(booking.Status, req.Action, booking.Mode)
	if err != nil {
		return nil, err
	}
	from := booking.Status
	booking.Status = to

	// Resolution to SETTLED still owes the earning split and payout queue.
	if req.Action == bookingdomain.ActionResolveSettle {
		if err := s.applySettlement(ctx, tx, booking); err != nil {
			return nil, fmt.Errorf("%w: %w", bookingdomain.ErrTransitionFailed, err)
		}
	}
	if err := s.writeEdge(ctx, tx, booking, from, req); err != nil {
		return nil, err
	}
	return booking, nil
}

// applyEdge runs the full transition inside one transaction: row lock, table
// validation, guards, side effects, versioned write, history append. Any
// failure rolls the edge back.
func (s *Service) applyEdge(ctx context.Context, req bookingdomain.TransitionRequest, auth *authResult) (*bookingdomain.Booking, error) {
	var result *bookingdomain.Booking
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		booking, err := s.repo.FindByIDForUpdate(ctx, tx, req.BookingID)
		if err != nil {
			return err
		}

		to, err := bookingdomain.Next(booking.Status, req.Action, booking.Mode)
		if err != nil {
			return err
		}
		if err := s.guard(booking, req.Action); err != nil {
			return err
		}

		from := booking.Status
		booking.Status = to
		s.stampDeadlines(booking, to)

		if err := s.sideEffects(ctx, tx, booking, req, auth); err != nil {
			return fmt.Errorf("%w: %w", bookingdomain.ErrTransitionFailed, err)
		}
		if err := s.writeEdge(ctx, tx, booking, from, req); err != nil {
			return err
		}
		result = booking
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) writeEdge(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking, from bookingdomain.Status, req bookingdomain.TransitionRequest) error {
	if err := s.repo.UpdateTransition(ctx, tx, booking, booking.Version); err != nil {
		return err
	}
	return s.repo.AppendHistory(ctx, tx, &bookingdomain.StateHistory{
		ID:         s.genID.Generate(),
		BookingID:  booking.ID,
		FromStatus: from,
		ToStatus:   booking.Status,
		Action:     req.Action,
		Actor:      req.Actor,
		Reason:     req.Reason,
		CreatedAt:  s.clock.Now().UTC(),
	})
}

func (s *Service) guard(booking *bookingdomain.Booking, action bookingdomain.Action) error {
	now := s.clock.Now().UTC()
	switch action {
	case bookingdomain.ActionCheckIn:
		if now.Before(booking.StartAt) {
			return bookingdomain.ErrCheckInNotReached
		}
	case bookingdomain.ActionTimeoutApproval:
		if booking.ApprovalDeadline == nil || now.Before(*booking.ApprovalDeadline) {
			return bookingdomain.ErrDeadlineNotReached
		}
	case bookingdomain.ActionTimeoutPayment:
		if booking.PaymentDeadline == nil || now.Before(*booking.PaymentDeadline) {
			return bookingdomain.ErrDeadlineNotReached
		}
	}
	return nil
}

func (s *Service) stampDeadlines(booking *bookingdomain.Booking, to bookingdomain.Status) {
	now := s.clock.Now().UTC()
	switch to {
	case bookingdomain.StatusPendingOwnerApproval:
		deadline := now.Add(s.cfg.ApprovalWindow)
		booking.ApprovalDeadline = &deadline
	case bookingdomain.StatusPendingPayment:
		deadline := now.Add(s.cfg.PaymentWindow)
		booking.PaymentDeadline = &deadline
	}
}

func (s *Service) sideEffects(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking, req bookingdomain.TransitionRequest, auth *authResult) error {
	switch req.Action {
	case bookingdomain.ActionConfirmPayment:
		return s.applyPaymentCapture(ctx, tx, booking, auth)
	case bookingdomain.ActionCancel:
		return s.applyCancellation(ctx, tx, booking, req)
	case bookingdomain.ActionSettle:
		return s.applySettlement(ctx, tx, booking)
	}
	return nil
}

// applyPaymentCapture posts the PAYMENT legs, opens the deposit hold and
// stores the succeeded payment row, all inside the transition transaction.
func (s *Service) applyPaymentCapture(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking, auth *authResult) error {
	if auth == nil {
		return errors.New("missing authorization result")
	}

	_, err := s.ledger.PostTx(ctx, tx, ledgerdomain.PostingRequest{
		BookingID:       booking.ID,
		TransactionType: ledgerdomain.TxPayment,
		Currency:        booking.Currency,
		IdempotencyKey:  postingKey(booking.ID, string(ledgerdomain.TxPayment), 1),
		Legs: []ledgerdomain.Leg{
			{AccountType: ledgerdomain.AccountCash, Side: ledgerdomain.SideDebit, Amount: booking.TotalPrice},
			{AccountType: ledgerdomain.AccountLiability, Side: ledgerdomain.SideCredit, Amount: booking.TotalPrice},
		},
	})
	if err != nil {
		return fmt.Errorf("post payment: %w", err)
	}

	if booking.DepositAmount > 0 {
		holdID, err := s.deposit.AuthorizeTx(ctx, tx, booking.ID, booking.DepositAmount, booking.Currency, auth.authRef)
		if err != nil {
			return fmt.Errorf("authorize deposit: %w", err)
		}
		booking.DepositHoldID = &holdID
	}

	now := s.clock.Now().UTC()
	payment := paymentdomain.Payment{
		ID:             s.genID.Generate(),
		BookingID:      booking.ID,
		IntentID:       auth.intentID,
		IdempotencyKey: postingKey(booking.ID, "PAYMENT_ROW", 1),
		Amount:         booking.TotalPrice + booking.DepositAmount,
		Currency:       booking.Currency,
		Status:         paymentdomain.MovementSucceeded,
		ProcessedAt:    &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.WithContext(ctx).Create(&payment).Error; err != nil {
		// The sweep re-confirms suspended payments; the earlier PENDING row
		// flips to SUCCEEDED instead of inserting a duplicate.
		if !db.IsDuplicateKeyErr(err) {
			return err
		}
		err = tx.WithContext(ctx).
			Model(&paymentdomain.Payment{}).
			Where("idempotency_key = ?", payment.IdempotencyKey).
			Updates(map[string]any{
				"status":       paymentdomain.MovementSucceeded,
				"intent_id":    auth.intentID,
				"processed_at": now,
				"updated_at":   now,
			}).Error
		if err != nil {
			return err
		}
	}
	booking.PaymentIntentID = auth.intentID
	return nil
}

// applyCancellation consumes the policy evaluator's refund fraction. Money
// moves only when something was captured; the refund row stays PENDING until
// the settlement sweep executes it against the processor.
func (s *Service) applyCancellation(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking, req bookingdomain.TransitionRequest) error {
	now := s.clock.Now().UTC()
	booking.CancelledAt = &now
	booking.CancelledBy = req.Actor
	booking.CancelReason = req.Reason

	captured := booking.PaymentIntentID != ""
	if !captured {
		return nil
	}

	fraction, err := s.policy.RefundFraction(ctx, policy.Request{
		Tier:        policy.Tier(booking.CancellationPolicy),
		StartAt:     booking.StartAt,
		CancelledAt: now,
	})
	if err != nil {
		return fmt.Errorf("evaluate cancellation policy: %w", err)
	}
	booking.RefundFraction = fraction

	refundAmount := int64(math.Round(float64(booking.TotalPrice) * fraction))
	if refundAmount > 0 {
		_, err = s.ledger.PostTx(ctx, tx, ledgerdomain.PostingRequest{
			BookingID:       booking.ID,
			TransactionType: ledgerdomain.TxRefund,
			Currency:        booking.Currency,
			IdempotencyKey:  postingKey(booking.ID, string(ledgerdomain.TxRefund), 1),
			Legs: []ledgerdomain.Leg{
				{AccountType: ledgerdomain.AccountLiability, Side: ledgerdomain.SideDebit, Amount: refundAmount},
				{AccountType: ledgerdomain.AccountCash, Side: ledgerdomain.SideCredit, Amount: refundAmount},
			},
		})
		if err != nil {
			return fmt.Errorf("post refund: %w", err)
		}

		refund := paymentdomain.Refund{
			ID:             s.genID.Generate(),
			BookingID:      booking.ID,
			IntentID:       booking.PaymentIntentID,
			IdempotencyKey: postingKey(booking.ID, "REFUND_ROW", 1),
			Amount:         refundAmount,
			Currency:       booking.Currency,
			Reason:         "cancellation",
			Status:         paymentdomain.MovementPending,
			NextAttemptAt:  &now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.WithContext(ctx).Create(&refund).Error; err != nil {
			return err
		}
	}

	if booking.DepositHoldID != nil {
		if err := s.deposit.ReleaseTx(ctx, tx, *booking.DepositHoldID); err != nil {
			return fmt.Errorf("release deposit: %w", err)
		}
	}

	// The capture and hold legs are final once the booking is cancelled; only
	// the refund waits on the processor.
	return s.ledger.SettlePendingByBooking(ctx, tx, booking.ID, now,
		ledgerdomain.TxRefund, ledgerdomain.TxPayout)
}

// applySettlement posts the earning and fee split, queues the owner payout
// and releases an undisputed deposit hold. The payout is the booking's net
// PAYABLE balance, so dispute deductions and payout adjustments posted before
// settlement change what the owner receives.
func (s *Service) applySettlement(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking) error {
	now := s.clock.Now().UTC()

	legsByType := []struct {
		txType ledgerdomain.TransactionType
		credit ledgerdomain.AccountType
		amount int64
	}{
		{ledgerdomain.TxOwnerEarning, ledgerdomain.AccountPayable, booking.OwnerEarnings},
		{ledgerdomain.TxPlatformFee, ledgerdomain.AccountRevenue, booking.PlatformFee},
		{ledgerdomain.TxServiceFee, ledgerdomain.AccountRevenue, booking.ServiceFee},
	}
	for _, l := range legsByType {
		if l.amount <= 0 {
			continue
		}
		_, err := s.ledger.PostTx(ctx, tx, ledgerdomain.PostingRequest{
			BookingID:       booking.ID,
			TransactionType: l.txType,
			Currency:        booking.Currency,
			IdempotencyKey:  postingKey(booking.ID, string(l.txType), 1),
			Legs: []ledgerdomain.Leg{
				{AccountType: ledgerdomain.AccountLiability, Side: ledgerdomain.SideDebit, Amount: l.amount},
				{AccountType: l.credit, Side: ledgerdomain.SideCredit, Amount: l.amount},
			},
		})
		if err != nil {
			return fmt.Errorf("post %s: %w", l.txType, err)
		}
	}

	payoutAmount, err := s.payableBalance(ctx, tx, booking.ID)
	if err != nil {
		return fmt.Errorf("compute payable balance: %w", err)
	}
	if payoutAmount > 0 {
		payout := paymentdomain.Payout{
			ID:             s.genID.Generate(),
			OwnerID:        booking.OwnerID,
			BookingID:      booking.ID,
			IdempotencyKey: postingKey(booking.ID, "PAYOUT_ROW", 1),
			Amount:         payoutAmount,
			Currency:       booking.Currency,
			Status:         paymentdomain.MovementPending,
			NextAttemptAt:  &now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.WithContext(ctx).Create(&payout).Error; err != nil {
			return err
		}
	}

	// A dispute resolution may already have captured or released the hold.
	if booking.DepositHoldID != nil {
		err := s.deposit.ReleaseTx(ctx, tx, *booking.DepositHoldID)
		if err != nil && !errors.Is(err, depositdomain.ErrHoldNotActive) {
			return fmt.Errorf("release deposit: %w", err)
		}
	}

	// Refund and payout legs settle when their external movement lands.
	return s.ledger.SettlePendingByBooking(ctx, tx, booking.ID, now,
		ledgerdomain.TxRefund, ledgerdomain.TxPayout)
}

// payableBalance is the net amount owed to the owner: PAYABLE credits minus
// debits across the booking's non-failed ledger legs.
func (s *Service) payableBalance(ctx context.Context, tx *gorm.DB, bookingID snowflake.ID) (int64, error) {
	var net int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(CASE WHEN side = 'CREDIT' THEN amount ELSE -amount END), 0)
		 FROM ledger_entries
		 WHERE booking_id = ? AND account_type = 'PAYABLE' AND status != 'FAILED'`,
		bookingID,
	).Scan(&net).Error
	return net, err
}

func (s *Service) recordPayment(ctx context.Context, booking *bookingdomain.Booking, intentID string, amount int64, status paymentdomain.MovementStatus) error {
	now := s.clock.Now().UTC()
	payment := paymentdomain.Payment{
		ID:             s.genID.Generate(),
		BookingID:      booking.ID,
		IntentID:       intentID,
		IdempotencyKey: postingKey(booking.ID, "PAYMENT_ROW", 1),
		Amount:         amount,
		Currency:       booking.Currency,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if status == paymentdomain.MovementPending {
		next := now.Add(s.cfg.Settlement.RetryBase)
		payment.NextAttemptAt = &next
	}
	if status == paymentdomain.MovementFailed {
		payment.ProcessedAt = &now
	}
	err := s.db.WithContext(ctx).Create(&payment).Error
	if err != nil && db.IsDuplicateKeyErr(err) {
		return s.db.WithContext(ctx).
			Model(&paymentdomain.Payment{}).
			Where("idempotency_key = ?", payment.IdempotencyKey).
			// Retry bookkeeping (attempts, next_attempt_at) belongs to the
			// settlement orchestrator and is left untouched on replays.
			Updates(map[string]any{
				"status":       status,
				"intent_id":    intentID,
				"processed_at": payment.ProcessedAt,
				"updated_at":   now,
			}).Error
	}
	return err
}

func (s *Service) afterTransition(booking *bookingdomain.Booking, req bookingdomain.TransitionRequest) {
	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(req.Action), string(booking.Status)).Inc()
	}
	if s.notify != nil {
		s.notify.Notify(notify.Event{
			BookingID:  booking.ID,
			Recipient:  booking.RenterID.String(),
			Kind:       string(req.Action),
			Message:    fmt.Sprintf("booking is now %s", booking.Status),
			OccurredAt: s.clock.Now().UTC(),
		})
	}
	s.log.Info("booking transitioned",
		zap.String("booking_id", booking.ID.String()),
		zap.String("action", string(req.Action)),
		zap.String("status", string(booking.Status)),
		zap.String("actor", req.Actor),
	)
}

func (s *Service) failMetric(action bookingdomain.Action, err error) {
	if s.metrics == nil {
		return
	}
	reason := "error"
	switch {
	case errors.Is(err, bookingdomain.ErrInvalidTransition):
		reason = "invalid_transition"
	case errors.Is(err, bookingdomain.ErrVersionConflict):
		reason = "version_conflict"
	case errors.Is(err, bookingdomain.ErrTransitionFailed):
		reason = "side_effect"
	}
	s.metrics.TransitionFailures.WithLabelValues(string(action), reason).Inc()
}

func postingKey(bookingID snowflake.ID, txType string, seq int) string {
	return fmt.Sprintf("%s:%s:%d", bookingID, txType, seq)
}
