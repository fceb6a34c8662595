package settlement

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	bookingdomain "github.com/samujjwal/rental-sub004/internal/booking/domain"
	"github.com/samujjwal/rental-sub004/internal/booking/repository"
	bookingservice "github.com/samujjwal/rental-sub004/internal/booking/service"
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
	db           *gorm.DB
	node         *snowflake.Node
	clock        *clock.FakeClock
	bookings     bookingdomain.Service
	orchestrator *Orchestrator
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

func newHarness(t *testing.T, cfg config.Config) *harness {
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

	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	fc := clock.NewFakeClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	repo := repository.Provide()
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{DB: conn, Log: zap.NewNop(), GenID: node})
	depositSvc := depositservice.NewService(depositservice.Params{DB: conn, Log: zap.NewNop(), GenID: node, Ledger: ledgerSvc})
	gw := sandbox.New()

	bookings := bookingservice.NewService(bookingservice.Params{
		DB:      conn,
		Log:     zap.NewNop(),
		GenID:   node,
		Config:  cfg,
		Clock:   fc,
		Repo:    repo,
		Ledger:  ledgerSvc,
		Deposit: depositSvc,
		Policy:  policy.NewEvaluator(),
		Gateway: gw,
	})

	o := New(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Config:   cfg,
		Clock:    fc,
		Bookings: bookings,
		Repo:     repo,
		Ledger:   ledgerSvc,
		Deposit:  depositSvc,
		Gateway:  gw,
	})
	return &harness{db: conn, node: node, clock: fc, bookings: bookings, orchestrator: o}
}

func (h *harness) createBooking(t *testing.T, mode bookingdomain.Mode, base, deposit int64, startIn time.Duration) *bookingdomain.Booking {
	t.Helper()
	b, err := h.bookings.Create(context.Background(), bookingdomain.CreateRequest{
		ListingID:          h.node.Generate(),
		RenterID:           h.node.Generate(),
		OwnerID:            h.node.Generate(),
		StartAt:            h.clock.Now().Add(startIn),
		EndAt:              h.clock.Now().Add(startIn + 72*time.Hour),
		GuestCount:         2,
		BasePrice:          base,
		ServiceFee:         1_000,
		Tax:                500,
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

func (h *harness) drive(t *testing.T, id snowflake.ID, actions ...bookingdomain.Action) {
	t.Helper()
	for _, action := range actions {
		_, err := h.bookings.Transition(context.Background(), bookingdomain.TransitionRequest{
			BookingID: id,
			Action:    action,
			Actor:     "test",
		})
		require.NoError(t, err, string(action))
	}
}

func (h *harness) bookingStatus(t *testing.T, id snowflake.ID) bookingdomain.Status {
	t.Helper()
	b, err := h.bookings.Get(context.Background(), id)
	require.NoError(t, err)
	return b.Status
}

func TestNextAttemptBackoff(t *testing.T) {
	o := &Orchestrator{cfg: config.SettlementConfig{RetryBase: time.Minute}}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(time.Minute), o.nextAttempt(now, 0))
	assert.Equal(t, now.Add(2*time.Minute), o.nextAttempt(now, 1))
	assert.Equal(t, now.Add(8*time.Minute), o.nextAttempt(now, 3))

	// The backoff stops doubling once it crosses a day.
	capped := o.nextAttempt(now, 20)
	assert.Equal(t, capped, o.nextAttempt(now, 30))
	assert.True(t, capped.Before(now.Add(48*time.Hour)))
}

func TestExpireApprovalsJob(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	b := h.createBooking(t, bookingdomain.ModeRequestToBook, 10_000, 5_000, 48*time.Hour)
	h.drive(t, b.ID, bookingdomain.ActionSubmit)

	// Within the window nothing expires.
	require.NoError(t, h.orchestrator.ExpireApprovalsJob(ctx))
	assert.Equal(t, bookingdomain.StatusPendingOwnerApproval, h.bookingStatus(t, b.ID))

	h.clock.Advance(25 * time.Hour)
	require.NoError(t, h.orchestrator.ExpireApprovalsJob(ctx))
	assert.Equal(t, bookingdomain.StatusCancelled, h.bookingStatus(t, b.ID))

	history, err := h.bookings.History(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.ActionTimeoutApproval, history[len(history)-1].Action)
}

func TestExpirePaymentsJob(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	b := h.createBooking(t, bookingdomain.ModeInstantBook, 10_000, 5_000, 48*time.Hour)
	h.drive(t, b.ID, bookingdomain.ActionSubmit)

	require.NoError(t, h.orchestrator.ExpirePaymentsJob(ctx))
	assert.Equal(t, bookingdomain.StatusPendingPayment, h.bookingStatus(t, b.ID))

	h.clock.Advance(31 * time.Minute)
	require.NoError(t, h.orchestrator.ExpirePaymentsJob(ctx))
	assert.Equal(t, bookingdomain.StatusCancelled, h.bookingStatus(t, b.ID))
}

// suspendPayment creates a booking whose charge stays pending at the
// processor and leaves it suspended in PENDING_PAYMENT.
func (h *harness) suspendPayment(t *testing.T) *bookingdomain.Booking {
	t.Helper()
	ctx := context.Background()

	// Base 10_098 with fee 1_000, tax 500 and deposit 5_000 charges 16_598.
	b := h.createBooking(t, bookingdomain.ModeInstantBook, 10_098, 5_000, 48*time.Hour)
	h.drive(t, b.ID, bookingdomain.ActionSubmit)

	_, err := h.bookings.Transition(ctx, bookingdomain.TransitionRequest{
		BookingID: b.ID,
		Action:    bookingdomain.ActionConfirmPayment,
		Actor:     "renter",
	})
	require.ErrorIs(t, err, paymentdomain.ErrExternalPending)
	require.Equal(t, bookingdomain.StatusPendingPayment, h.bookingStatus(t, b.ID))
	return b
}

func TestConfirmPendingPaymentsJobResolves(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	b := h.suspendPayment(t)

	// First poll is still pending and backs the retry off.
	h.clock.Advance(2 * time.Minute)
	require.NoError(t, h.orchestrator.ConfirmPendingPaymentsJob(ctx))
	assert.Equal(t, bookingdomain.StatusPendingPayment, h.bookingStatus(t, b.ID))

	var payment paymentdomain.Payment
	require.NoError(t, h.db.First(&payment, "booking_id = ?", b.ID).Error)
	assert.Equal(t, 1, payment.Attempts)
	require.NotNil(t, payment.NextAttemptAt)
	assert.True(t, payment.NextAttemptAt.After(h.clock.Now()))

	// Before the backoff elapses the row is not picked up again.
	require.NoError(t, h.orchestrator.ConfirmPendingPaymentsJob(ctx))
	require.NoError(t, h.db.First(&payment, "booking_id = ?", b.ID).Error)
	assert.Equal(t, 1, payment.Attempts)

	// Second poll resolves the intent and confirms the booking.
	h.clock.Advance(3 * time.Minute)
	require.NoError(t, h.orchestrator.ConfirmPendingPaymentsJob(ctx))
	assert.Equal(t, bookingdomain.StatusConfirmed, h.bookingStatus(t, b.ID))

	require.NoError(t, h.db.First(&payment, "booking_id = ?", b.ID).Error)
	assert.Equal(t, paymentdomain.MovementSucceeded, payment.Status)
}

func TestConfirmPendingPaymentsJobRetryCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.Settlement.RetryCeiling = 1
	h := newHarness(t, cfg)
	ctx := context.Background()

	b := h.suspendPayment(t)

	h.clock.Advance(2 * time.Minute)
	require.NoError(t, h.orchestrator.ConfirmPendingPaymentsJob(ctx))

	var payment paymentdomain.Payment
	require.NoError(t, h.db.First(&payment, "booking_id = ?", b.ID).Error)
	assert.Equal(t, paymentdomain.MovementFailed, payment.Status)
	assert.Equal(t, bookingdomain.StatusCancelled, h.bookingStatus(t, b.ID))
}

func (h *harness) completedBooking(t *testing.T) *bookingdomain.Booking {
	t.Helper()
	b := h.createBooking(t, bookingdomain.ModeInstantBook, 10_000, 5_000, 24*time.Hour)
	h.drive(t, b.ID, bookingdomain.ActionSubmit, bookingdomain.ActionConfirmPayment)
	h.clock.Advance(24 * time.Hour)
	h.drive(t, b.ID,
		bookingdomain.ActionCheckIn,
		bookingdomain.ActionRecordCheckIn,
		bookingdomain.ActionInitiateReturn,
		bookingdomain.ActionCompleteInspection,
	)
	return b
}

func TestSettleCompletedJob(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	b := h.completedBooking(t)
	h.clock.Advance(72 * time.Hour)
	require.NoError(t, h.orchestrator.SettleCompletedJob(ctx))
	assert.Equal(t, bookingdomain.StatusSettled, h.bookingStatus(t, b.ID))

	// Everything except the queued payout legs is settled.
	var pending []ledgerdomain.LedgerEntry
	require.NoError(t, h.db.
		Where("booking_id = ? AND status = ?", b.ID, ledgerdomain.EntryPending).
		Find(&pending).Error)
	assert.Empty(t, pending)

	var payout paymentdomain.Payout
	require.NoError(t, h.db.First(&payout, "booking_id = ?", b.ID).Error)
	assert.Equal(t, paymentdomain.MovementPending, payout.Status)
	assert.Equal(t, int64(8_500), payout.Amount)
}

func TestSettleCompletedJobWaitsForFilingWindow(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	// Earnings stay put while a dispute may still be filed against the
	// completed booking.
	b := h.completedBooking(t)
	require.NoError(t, h.orchestrator.SettleCompletedJob(ctx))
	assert.Equal(t, bookingdomain.StatusCompleted, h.bookingStatus(t, b.ID))

	h.clock.Advance(71 * time.Hour)
	require.NoError(t, h.orchestrator.SettleCompletedJob(ctx))
	assert.Equal(t, bookingdomain.StatusCompleted, h.bookingStatus(t, b.ID))

	h.clock.Advance(time.Hour)
	require.NoError(t, h.orchestrator.SettleCompletedJob(ctx))
	assert.Equal(t, bookingdomain.StatusSettled, h.bookingStatus(t, b.ID))
}

func TestExecutePayoutsJob(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	b := h.completedBooking(t)
	h.clock.Advance(72 * time.Hour)
	require.NoError(t, h.orchestrator.SettleCompletedJob(ctx))
	require.NoError(t, h.orchestrator.ExecutePayoutsJob(ctx))

	var payout paymentdomain.Payout
	require.NoError(t, h.db.First(&payout, "booking_id = ?", b.ID).Error)
	assert.Equal(t, paymentdomain.MovementSucceeded, payout.Status)
	require.NotNil(t, payout.ProcessedAt)

	var legs []ledgerdomain.LedgerEntry
	require.NoError(t, h.db.
		Where("booking_id = ? AND transaction_type = ?", b.ID, ledgerdomain.TxPayout).
		Find(&legs).Error)
	require.Len(t, legs, 2)
	for _, leg := range legs {
		assert.Equal(t, ledgerdomain.EntrySettled, leg.Status)
		assert.Equal(t, int64(8_500), leg.Amount)
	}

	// Replays are harmless: the payout is SUCCEEDED and skipped.
	require.NoError(t, h.orchestrator.ExecutePayoutsJob(ctx))
}

func TestExecuteRefundsJob(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	b := h.createBooking(t, bookingdomain.ModeInstantBook, 10_000, 5_000, 48*time.Hour)
	h.drive(t, b.ID,
		bookingdomain.ActionSubmit,
		bookingdomain.ActionConfirmPayment,
		bookingdomain.ActionCancel,
	)
	require.Equal(t, bookingdomain.StatusCancelled, h.bookingStatus(t, b.ID))

	require.NoError(t, h.orchestrator.ExecuteRefundsJob(ctx))

	var refund paymentdomain.Refund
	require.NoError(t, h.db.First(&refund, "booking_id = ?", b.ID).Error)
	assert.Equal(t, paymentdomain.MovementSucceeded, refund.Status)
	assert.Equal(t, int64(5_750), refund.Amount)

	var legs []ledgerdomain.LedgerEntry
	require.NoError(t, h.db.
		Where("booking_id = ? AND transaction_type = ?", b.ID, ledgerdomain.TxRefund).
		Find(&legs).Error)
	require.Len(t, legs, 2)
	for _, leg := range legs {
		assert.Equal(t, ledgerdomain.EntrySettled, leg.Status)
	}
}

func TestExecuteRefundsJobFailureFailsLegs(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	// Base 10_098 with fee 1_000, tax 500 and deposit 5_002 charges 16_600,
	// which captures cleanly; the half refund of 5_799 is declined.
	b := h.createBooking(t, bookingdomain.ModeInstantBook, 10_098, 5_002, 48*time.Hour)
	h.drive(t, b.ID,
		bookingdomain.ActionSubmit,
		bookingdomain.ActionConfirmPayment,
		bookingdomain.ActionCancel,
	)

	require.NoError(t, h.orchestrator.ExecuteRefundsJob(ctx))

	var refund paymentdomain.Refund
	require.NoError(t, h.db.First(&refund, "booking_id = ?", b.ID).Error)
	assert.Equal(t, paymentdomain.MovementFailed, refund.Status)
	assert.Equal(t, int64(5_799), refund.Amount)

	// The dead movement's legs are FAILED, not left pending; money that never
	// moved drops out of the booking balance.
	var legs []ledgerdomain.LedgerEntry
	require.NoError(t, h.db.
		Where("booking_id = ? AND transaction_type = ?", b.ID, ledgerdomain.TxRefund).
		Find(&legs).Error)
	require.Len(t, legs, 2)
	for _, leg := range legs {
		assert.Equal(t, ledgerdomain.EntryFailed, leg.Status)
	}

	var pending int64
	require.NoError(t, h.db.Model(&ledgerdomain.LedgerEntry{}).
		Where("booking_id = ? AND status = ?", b.ID, ledgerdomain.EntryPending).
		Count(&pending).Error)
	assert.Zero(t, pending)
}

func TestReconcileLateCapturesJob(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	b := h.suspendPayment(t)
	h.drive(t, b.ID, bookingdomain.ActionCancel)
	require.Equal(t, bookingdomain.StatusCancelled, h.bookingStatus(t, b.ID))

	// First sweep still sees the intent pending at the processor.
	require.NoError(t, h.orchestrator.ReconcileLateCapturesJob(ctx))
	var payment paymentdomain.Payment
	require.NoError(t, h.db.First(&payment, "booking_id = ?", b.ID).Error)
	assert.Equal(t, paymentdomain.MovementPending, payment.Status)

	// The late capture lands on the second poll and is refunded in full.
	require.NoError(t, h.orchestrator.ReconcileLateCapturesJob(ctx))
	require.NoError(t, h.db.First(&payment, "booking_id = ?", b.ID).Error)
	assert.Equal(t, paymentdomain.MovementSucceeded, payment.Status)

	var refund paymentdomain.Refund
	require.NoError(t, h.db.First(&refund, "booking_id = ?", b.ID).Error)
	assert.Equal(t, paymentdomain.MovementPending, refund.Status)
	assert.Equal(t, payment.Amount, refund.Amount)

	// The capture is on the books before the compensating refund, so the
	// booking nets to zero instead of showing unexplained cash leaving.
	var captureLegs []ledgerdomain.LedgerEntry
	require.NoError(t, h.db.
		Where("booking_id = ? AND transaction_type = ?", b.ID, ledgerdomain.TxPayment).
		Find(&captureLegs).Error)
	require.Len(t, captureLegs, 2)
	for _, leg := range captureLegs {
		assert.Equal(t, ledgerdomain.EntrySettled, leg.Status)
		assert.Equal(t, payment.Amount, leg.Amount)
	}

	var legs []ledgerdomain.LedgerEntry
	require.NoError(t, h.db.
		Where("booking_id = ? AND transaction_type = ?", b.ID, ledgerdomain.TxRefund).
		Find(&legs).Error)
	require.Len(t, legs, 2)

	var net int64
	require.NoError(t, h.db.Raw(
		`SELECT COALESCE(SUM(CASE WHEN side = 'DEBIT' THEN amount ELSE -amount END), 0)
		 FROM ledger_entries WHERE booking_id = ?`, b.ID).Scan(&net).Error)
	assert.Zero(t, net)
}

func TestReconcileAbandonedHoldsJob(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	b := h.createBooking(t, bookingdomain.ModeInstantBook, 10_000, 5_000, 48*time.Hour)
	h.drive(t, b.ID, bookingdomain.ActionSubmit, bookingdomain.ActionConfirmPayment)

	// Simulate lost hold bookkeeping: the booking reached a terminal status
	// but the release never committed.
	require.NoError(t, h.db.Model(&bookingdomain.Booking{}).
		Where("id = ?", b.ID).
		Update("status", bookingdomain.StatusCancelled).Error)

	require.NoError(t, h.orchestrator.ReconcileAbandonedHoldsJob(ctx))

	var hold depositdomain.DepositHold
	require.NoError(t, h.db.First(&hold, "booking_id = ?", b.ID).Error)
	assert.Equal(t, depositdomain.HoldExpired, hold.Status)
	assert.Equal(t, int64(5_000), hold.AmountForfeited)
	assert.Equal(t, hold.Amount, hold.AmountReleased+hold.AmountDeducted+hold.AmountForfeited)

	// A second sweep finds nothing left to forfeit.
	require.NoError(t, h.orchestrator.ReconcileAbandonedHoldsJob(ctx))
}

func TestRunOnceJoinsJobs(t *testing.T) {
	h := newHarness(t, testConfig())

	b := h.completedBooking(t)
	h.clock.Advance(72 * time.Hour)
	require.NoError(t, h.orchestrator.RunOnce(context.Background()))
	assert.Equal(t, bookingdomain.StatusSettled, h.bookingStatus(t, b.ID))
}
