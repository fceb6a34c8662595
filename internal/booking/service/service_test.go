package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	bookingdomain "github.com/samujjwal/rental-sub004/internal/booking/domain"
	"github.com/samujjwal/rental-sub004/internal/booking/repository"
	"github.com/samujjwal/rental-sub004/internal/clock"
	"github.com/samujjwal/rental-sub004/internal/config"
	depositdomain "github.com/samujjwal/rental-sub004/internal/deposit/domain"
	depositservice "github.com/samujjwal/rental-sub004/internal/deposit/service"
	ledgerdomain "github.com/samujjwal/rental-sub004/internal/ledger/domain"
	ledgerservice "github.com/samujjwal/rental-sub004/internal/ledger/service"
	"github.com/samujjwal/rental-sub004/internal/payment/adapters/sandbox"
	paymentdomain "github.com/samujjwal/rental-sub004/internal/payment/domain"
	"github.com/samujjwal/rental-sub004/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type harness struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   *clock.FakeClock
	svc     bookingdomain.Service
	deposit depositdomain.Service
}

func testConfig() config.Config {
	return config.Config{
		ApprovalWindow:      24 * time.Hour,
		PaymentWindow:       30 * time.Minute,
		DisputeFilingWindow: 72 * time.Hour,
		Settlement: config.SettlementConfig{
			RunInterval:    time.Minute,
			BatchSize:      50,
			RetryBase:      time.Minute,
			RetryCeiling:   8,
			StaleThreshold: time.Hour,
		},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&bookingdomain.Booking{},
		&bookingdomain.StateHistory{},
		&ledgerdomain.LedgerPosting{},
		&ledgerdomain.LedgerEntry{},
		&depositdomain.DepositHold{},
		&paymentdomain.Payment{},
		&paymentdomain.Refund{},
		&paymentdomain.Payout{},
	))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	fc := clock.NewFakeClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{DB: conn, Log: zap.NewNop(), GenID: node})
	depositSvc := depositservice.NewService(depositservice.Params{DB: conn, Log: zap.NewNop(), GenID: node, Ledger: ledgerSvc})

	svc := NewService(Params{
		DB:      conn,
		Log:     zap.NewNop(),
		GenID:   node,
		Config:  testConfig(),
		Clock:   fc,
		Repo:    repository.Provide(),
		Ledger:  ledgerSvc,
		Deposit: depositSvc,
		Policy:  policy.NewEvaluator(),
		Gateway: sandbox.New(),
	})
	return &harness{db: conn, node: node, clock: fc, svc: svc, deposit: depositSvc}
}

func (h *harness) createBooking(t *testing.T, mode bookingdomain.Mode, base, fee, tax, deposit int64, startIn time.Duration) *bookingdomain.Booking {
	t.Helper()
	b, err := h.svc.Create(context.Background(), bookingdomain.CreateRequest{
		ListingID:          h.node.Generate(),
		RenterID:           h.node.Generate(),
		OwnerID:            h.node.Generate(),
		StartAt:            h.clock.Now().Add(startIn),
		EndAt:              h.clock.Now().Add(startIn + 72*time.Hour),
		GuestCount:         2,
		BasePrice:          base,
		ServiceFee:         fee,
		Tax:                tax,
		DepositAmount:      deposit,
		OwnerEarnings:      base - 1_500,
		PlatformFee:        1_500,
		Currency:           "USD",
		Mode:               mode,
		CancellationPolicy: string(policy.TierModerate),
	})
	require.NoError(t, err)
	return b
}

func (h *harness) mustTransition(t *testing.T, id snowflake.ID, action bookingdomain.Action) *bookingdomain.Booking {
	t.Helper()
	b, err := h.svc.Transition(context.Background(), bookingdomain.TransitionRequest{
		BookingID: id,
		Action:    action,
		Actor:     "test",
	})
	require.NoError(t, err, string(action))
	return b
}

func (h *harness) entriesOfType(t *testing.T, bookingID snowflake.ID, txType ledgerdomain.TransactionType) []ledgerdomain.LedgerEntry {
	t.Helper()
	var entries []ledgerdomain.LedgerEntry
	require.NoError(t, h.db.
		Where("booking_id = ? AND transaction_type = ?", bookingID, txType).
		Find(&entries).Error)
	return entries
}

func TestCreateAppliesDefaults(t *testing.T) {
	h := newHarness(t)

	b, err := h.svc.Create(context.Background(), bookingdomain.CreateRequest{
		ListingID:     h.node.Generate(),
		RenterID:      h.node.Generate(),
		OwnerID:       h.node.Generate(),
		StartAt:       h.clock.Now().Add(48 * time.Hour),
		EndAt:         h.clock.Now().Add(96 * time.Hour),
		BasePrice:     10_000,
		ServiceFee:    1_000,
		Tax:           500,
		OwnerEarnings: 8_500,
		PlatformFee:   1_500,
		Currency:      "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.StatusDraft, b.Status)
	assert.Equal(t, bookingdomain.ModeRequestToBook, b.Mode)
	assert.Equal(t, string(policy.TierModerate), b.CancellationPolicy)
	assert.Equal(t, 1, b.GuestCount)
	assert.Equal(t, int64(11_500), b.TotalPrice)
}

func TestCreateRejectsBrokenPricing(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Create(context.Background(), bookingdomain.CreateRequest{
		ListingID:     h.node.Generate(),
		RenterID:      h.node.Generate(),
		OwnerID:       h.node.Generate(),
		StartAt:       h.clock.Now().Add(48 * time.Hour),
		EndAt:         h.clock.Now().Add(96 * time.Hour),
		BasePrice:     10_000,
		OwnerEarnings: 9_000,
		PlatformFee:   1_500,
		Currency:      "USD",
	})
	assert.ErrorIs(t, err, bookingdomain.ErrInvalidPricing)
}

func TestTransitionRejectsRestrictedActions(t *testing.T) {
	h := newHarness(t)
	b := h.createBooking(t, bookingdomain.ModeRequestToBook, 10_000, 1_000, 500, 5_000, 48*time.Hour)

	_, err := h.svc.Transition(context.Background(), bookingdomain.TransitionRequest{
		BookingID: b.ID,
		Action:    bookingdomain.ActionSettle,
		Actor:     "renter",
	})
	assert.ErrorIs(t, err, bookingdomain.ErrActionRestricted)
}

func TestSubmitStampsDeadlines(t *testing.T) {
	h := newHarness(t)

	rtb := h.createBooking(t, bookingdomain.ModeRequestToBook, 10_000, 1_000, 500, 5_000, 48*time.Hour)
	b := h.mustTransition(t, rtb.ID, bookingdomain.ActionSubmit)
	assert.Equal(t, bookingdomain.StatusPendingOwnerApproval, b.Status)
	require.NotNil(t, b.ApprovalDeadline)
	assert.Equal(t, h.clock.Now().Add(24*time.Hour), *b.ApprovalDeadline)

	instant := h.createBooking(t, bookingdomain.ModeInstantBook, 10_000, 1_000, 500, 5_000, 48*time.Hour)
	b = h.mustTransition(t, instant.ID, bookingdomain.ActionSubmit)
	assert.Equal(t, bookingdomain.StatusPendingPayment, b.Status)
	require.NotNil(t, b.PaymentDeadline)
	assert.Equal(t, h.clock.Now().Add(30*time.Minute), *b.PaymentDeadline)
}

func TestConfirmPaymentCapturesAndOpensHold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b := h.createBooking(t, bookingdomain.ModeInstantBook, 10_000, 1_000, 500, 5_000, 48*time.Hour)
	h.mustTransition(t, b.ID, bookingdomain.ActionSubmit)
	confirmed := h.mustTransition(t, b.ID, bookingdomain.ActionConfirmPayment)

	assert.Equal(t, bookingdomain.StatusConfirmed, confirmed.Status)
	assert.NotEmpty(t, confirmed.PaymentIntentID)
	require.NotNil(t, confirmed.DepositHoldID)

	// PAYMENT legs carry the rental total only; the deposit is a hold.
	legs := h.entriesOfType(t, b.ID, ledgerdomain.TxPayment)
	require.Len(t, legs, 2)
	for _, leg := range legs {
		assert.Equal(t, int64(11_500), leg.Amount)
		assert.Equal(t, ledgerdomain.EntryPending, leg.Status)
	}

	hold, err := h.deposit.ActiveHold(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), hold.Amount)

	var payment paymentdomain.Payment
	require.NoError(t, h.db.First(&payment, "booking_id = ?", b.ID).Error)
	assert.Equal(t, paymentdomain.MovementSucceeded, payment.Status)
	assert.Equal(t, int64(16_500), payment.Amount)

	history, err := h.svc.History(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, bookingdomain.ActionConfirmPayment, history[1].Action)

	fresh, err := h.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fresh.Version)
}

func TestConfirmPaymentDeclinedCancelsBooking(t *testing.T) {
	h := newHarness(t)

	// Charge of 15_099 ends in 99 and is declined by the processor.
	b := h.createBooking(t, bookingdomain.ModeInstantBook, 10_099, 0, 0, 5_000, 48*time.Hour)
	h.mustTransition(t, b.ID, bookingdomain.ActionSubmit)

	_, err := h.svc.Transition(context.Background(), bookingdomain.TransitionRequest{
		BookingID: b.ID,
		Action:    bookingdomain.ActionConfirmPayment,
		Actor:     "renter",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrExternalFailed)

	fresh, err := h.svc.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.StatusCancelled, fresh.Status)
	assert.Empty(t, fresh.PaymentIntentID)

	var payment paymentdomain.Payment
	require.NoError(t, h.db.First(&payment, "booking_id = ?", b.ID).Error)
	assert.Equal(t, paymentdomain.MovementFailed, payment.Status)

	// No money moved for a declined authorization.
	assert.Empty(t, h.entriesOfType(t, b.ID, ledgerdomain.TxPayment))
}

func TestConfirmPaymentSuspendsThenResolves(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Charge of 15_098 ends in 98 and stays pending at the processor.
	b := h.createBooking(t, bookingdomain.ModeInstantBook, 10_098, 0, 0, 5_000, 48*time.Hour)
	h.mustTransition(t, b.ID, bookingdomain.ActionSubmit)

	confirm := bookingdomain.TransitionRequest{
		BookingID: b.ID,
		Action:    bookingdomain.ActionConfirmPayment,
		Actor:     "renter",
	}

	_, err := h.svc.Transition(ctx, confirm)
	assert.ErrorIs(t, err, paymentdomain.ErrExternalPending)

	fresh, err := h.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.StatusPendingPayment, fresh.Status)

	var payment paymentdomain.Payment
	require.NoError(t, h.db.First(&payment, "booking_id = ?", b.ID).Error)
	assert.Equal(t, paymentdomain.MovementPending, payment.Status)
	require.NotNil(t, payment.NextAttemptAt)

	// First poll still pending, second poll resolves.
	_, err = h.svc.Transition(ctx, confirm)
	assert.ErrorIs(t, err, paymentdomain.ErrExternalPending)

	confirmed, err := h.svc.Transition(ctx, confirm)
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.StatusConfirmed, confirmed.Status)

	require.NoError(t, h.db.First(&payment, "booking_id = ?", b.ID).Error)
	assert.Equal(t, paymentdomain.MovementSucceeded, payment.Status)

	var count int64
	require.NoError(t, h.db.Model(&paymentdomain.Payment{}).Where("booking_id = ?", b.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCheckInBeforeStartRejected(t *testing.T) {
	h := newHarness(t)

	b := h.createBooking(t, bookingdomain.ModeInstantBook, 10_000, 1_000, 500, 5_000, 48*time.Hour)
	h.mustTransition(t, b.ID, bookingdomain.ActionSubmit)
	h.mustTransition(t, b.ID, bookingdomain.ActionConfirmPayment)

	_, err := h.svc.Transition(context.Background(), bookingdomain.TransitionRequest{
		BookingID: b.ID,
		Action:    bookingdomain.ActionCheckIn,
		Actor:     "renter",
	})
	assert.ErrorIs(t, err, bookingdomain.ErrCheckInNotReached)

	h.clock.Advance(48 * time.Hour)
	active := h.mustTransition(t, b.ID, bookingdomain.ActionCheckIn)
	assert.Equal(t, bookingdomain.StatusActive, active.Status)
}

func TestCancelAfterCaptureRefundsByPolicy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// MODERATE tier with 48h notice refunds half the rental total.
	b := h.createBooking(t, bookingdomain.ModeInstantBook, 10_000, 1_000, 500, 5_000, 48*time.Hour)
	h.mustTransition(t, b.ID, bookingdomain.ActionSubmit)
	h.mustTransition(t, b.ID, bookingdomain.ActionConfirmPayment)

	cancelled, err := h.svc.Transition(ctx, bookingdomain.TransitionRequest{
		BookingID: b.ID,
		Action:    bookingdomain.ActionCancel,
		Actor:     "renter",
		Reason:    "change of plans",
	})
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.StatusCancelled, cancelled.Status)
	assert.Equal(t, 0.5, cancelled.RefundFraction)
	assert.Equal(t, "renter", cancelled.CancelledBy)
	require.NotNil(t, cancelled.CancelledAt)

	// The refund waits on the processor; every other leg is final once the
	// booking is cancelled.
	legs := h.entriesOfType(t, b.ID, ledgerdomain.TxRefund)
	require.Len(t, legs, 2)
	for _, leg := range legs {
		assert.Equal(t, int64(5_750), leg.Amount)
		assert.Equal(t, ledgerdomain.EntryPending, leg.Status)
	}
	var stillPending int64
	require.NoError(t, h.db.Model(&ledgerdomain.LedgerEntry{}).
		Where("booking_id = ? AND status = ? AND transaction_type != ?",
			b.ID, ledgerdomain.EntryPending, ledgerdomain.TxRefund).
		Count(&stillPending).Error)
	assert.Zero(t, stillPending)

	var refund paymentdomain.Refund
	require.NoError(t, h.db.First(&refund, "booking_id = ?", b.ID).Error)
	assert.Equal(t, paymentdomain.MovementPending, refund.Status)
	assert.Equal(t, int64(5_750), refund.Amount)

	hold, err := h.deposit.Get(ctx, *cancelled.DepositHoldID)
	require.NoError(t, err)
	assert.Equal(t, depositdomain.HoldReleased, hold.Status)
	assert.Equal(t, int64(5_000), hold.AmountReleased)
}

func TestCancelBeforeCaptureMovesNoMoney(t *testing.T) {
	h := newHarness(t)

	b := h.createBooking(t, bookingdomain.ModeRequestToBook, 10_000, 1_000, 500, 5_000, 48*time.Hour)
	h.mustTransition(t, b.ID, bookingdomain.ActionSubmit)
	cancelled := h.mustTransition(t, b.ID, bookingdomain.ActionCancel)

	assert.Equal(t, bookingdomain.StatusCancelled, cancelled.Status)
	assert.Zero(t, cancelled.RefundFraction)

	var entries int64
	require.NoError(t, h.db.Model(&ledgerdomain.LedgerEntry{}).Where("booking_id = ?", b.ID).Count(&entries).Error)
	assert.Zero(t, entries)

	var refunds int64
	require.NoError(t, h.db.Model(&paymentdomain.Refund{}).Where("booking_id = ?", b.ID).Count(&refunds).Error)
	assert.Zero(t, refunds)
}

func TestTimeoutGuardsRequireDeadline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b := h.createBooking(t, bookingdomain.ModeRequestToBook, 10_000, 1_000, 500, 5_000, 48*time.Hour)
	h.mustTransition(t, b.ID, bookingdomain.ActionSubmit)

	timeout := bookingdomain.TransitionRequest{
		BookingID: b.ID,
		Action:    bookingdomain.ActionTimeoutApproval,
		Actor:     "scheduler",
	}
	_, err := h.svc.SystemTransition(ctx, timeout)
	assert.ErrorIs(t, err, bookingdomain.ErrDeadlineNotReached)

	h.clock.Advance(25 * time.Hour)
	expired, err := h.svc.SystemTransition(ctx, timeout)
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.StatusCancelled, expired.Status)
}

func TestSettleSplitsEarningsAndQueuesPayout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b := h.createBooking(t, bookingdomain.ModeInstantBook, 10_000, 1_000, 500, 5_000, 24*time.Hour)
	h.mustTransition(t, b.ID, bookingdomain.ActionSubmit)
	h.mustTransition(t, b.ID, bookingdomain.ActionConfirmPayment)
	h.clock.Advance(24 * time.Hour)
	h.mustTransition(t, b.ID, bookingdomain.ActionCheckIn)
	h.mustTransition(t, b.ID, bookingdomain.ActionRecordCheckIn)
	h.mustTransition(t, b.ID, bookingdomain.ActionInitiateReturn)
	h.mustTransition(t, b.ID, bookingdomain.ActionCompleteInspection)

	settled, err := h.svc.SystemTransition(ctx, bookingdomain.TransitionRequest{
		BookingID: b.ID,
		Action:    bookingdomain.ActionSettle,
		Actor:     "scheduler",
	})
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.StatusSettled, settled.Status)

	for txType, amount := range map[ledgerdomain.TransactionType]int64{
		ledgerdomain.TxOwnerEarning: 8_500,
		ledgerdomain.TxPlatformFee:  1_500,
		ledgerdomain.TxServiceFee:   1_000,
	} {
		legs := h.entriesOfType(t, b.ID, txType)
		require.Len(t, legs, 2, string(txType))
		for _, leg := range legs {
			assert.Equal(t, amount, leg.Amount, string(txType))
		}
	}

	// Settlement finalizes every leg; only an external movement could still
	// be pending and none exists here.
	var pending int64
	require.NoError(t, h.db.Model(&ledgerdomain.LedgerEntry{}).
		Where("booking_id = ? AND status = ?", b.ID, ledgerdomain.EntryPending).
		Count(&pending).Error)
	assert.Zero(t, pending)

	var payout paymentdomain.Payout
	require.NoError(t, h.db.First(&payout, "booking_id = ?", b.ID).Error)
	assert.Equal(t, paymentdomain.MovementPending, payout.Status)
	assert.Equal(t, int64(8_500), payout.Amount)
	assert.Equal(t, b.OwnerID, payout.OwnerID)

	hold, err := h.deposit.Get(ctx, *settled.DepositHoldID)
	require.NoError(t, err)
	assert.Equal(t, depositdomain.HoldReleased, hold.Status)
}
