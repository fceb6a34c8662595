package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	depositdomain "github.com/samujjwal/rental-sub004/internal/deposit/domain"
	ledgerdomain "github.com/samujjwal/rental-sub004/internal/ledger/domain"
	"github.com/samujjwal/rental-sub004/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Ledger ledgerdomain.Service
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	ledger ledgerdomain.Service
}

func NewService(p Params) depositdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("deposit.service"),
		genID:  p.GenID,
		ledger: p.Ledger,
	}
}

func (s *Service) AuthorizeTx(ctx context.Context, tx *gorm.DB, bookingID snowflake.ID, amount int64, currency, authorizationID string) (snowflake.ID, error) {
	if bookingID == 0 {
		return 0, depositdomain.ErrInvalidBooking
	}
	if amount <= 0 {
		return 0, depositdomain.ErrInvalidAmount
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return 0, depositdomain.ErrInvalidCurrency
	}

	// One active hold per booking. The partial unique index is the backstop;
	// this check gives callers a clean error instead of a driver error.
	var count int64
	err := tx.WithContext(ctx).
		Model(&depositdomain.DepositHold{}).
		Where("booking_id = ? AND status = ?", bookingID, depositdomain.HoldAuthorized).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, depositdomain.ErrHoldAlreadyActive
	}

	hold := depositdomain.DepositHold{
		ID:              s.genID.Generate(),
		BookingID:       bookingID,
		Amount:          amount,
		Currency:        currency,
		AuthorizationID: authorizationID,
		Status:          depositdomain.HoldAuthorized,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(&hold).Error; err != nil {
		return 0, err
	}

	_, err = s.ledger.PostTx(ctx, tx, ledgerdomain.PostingRequest{
		BookingID:       bookingID,
		TransactionType: ledgerdomain.TxDepositHold,
		Currency:        currency,
		IdempotencyKey:  holdKey(bookingID, ledgerdomain.TxDepositHold, hold.ID),
		Legs: []ledgerdomain.Leg{
			{AccountType: ledgerdomain.AccountLiability, Side: ledgerdomain.SideDebit, Amount: amount},
			{AccountType: ledgerdomain.AccountCash, Side: ledgerdomain.SideCredit, Amount: amount},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("post deposit hold: %w", err)
	}

	s.log.Info("deposit hold authorized",
		zap.String("booking_id", bookingID.String()),
		zap.String("hold_id", hold.ID.String()),
		zap.Int64("amount", amount),
	)
	return hold.ID, nil
}

func (s *Service) ReleaseTx(ctx context.Context, tx *gorm.DB, holdID snowflake.ID) error {
	hold, err := s.lockHold(ctx, tx, holdID)
	if err != nil {
		return err
	}
	if hold.Status != depositdomain.HoldAuthorized {
		return depositdomain.ErrHoldNotActive
	}

	remaining := hold.Remaining()
	if remaining > 0 {
		_, err = s.ledger.PostTx(ctx, tx, ledgerdomain.PostingRequest{
			BookingID:       hold.BookingID,
			TransactionType: ledgerdomain.TxDepositRelease,
			Currency:        hold.Currency,
			IdempotencyKey:  holdKey(hold.BookingID, ledgerdomain.TxDepositRelease, hold.ID),
			Legs: []ledgerdomain.Leg{
				{AccountType: ledgerdomain.AccountCash, Side: ledgerdomain.SideDebit, Amount: remaining},
				{AccountType: ledgerdomain.AccountLiability, Side: ledgerdomain.SideCredit, Amount: remaining},
			},
		})
		if err != nil {
			return fmt.Errorf("post deposit release: %w", err)
		}
	}

	now := time.Now().UTC()
	return tx.WithContext(ctx).
		Model(&depositdomain.DepositHold{}).
		Where("id = ?", hold.ID).
		Updates(map[string]any{
			"status":          depositdomain.HoldReleased,
			"amount_released": hold.AmountReleased + remaining,
			"released_at":     now,
			"updated_at":      now,
		}).Error
}

func (s *Service) DeductTx(ctx context.Context, tx *gorm.DB, holdID snowflake.ID, amount int64, reason string) error {
	if amount <= 0 {
		return depositdomain.ErrInvalidAmount
	}

	hold, err := s.lockHold(ctx, tx, holdID)
	if err != nil {
		return err
	}
	if hold.Status != depositdomain.HoldAuthorized {
		return depositdomain.ErrHoldNotActive
	}

	remaining := hold.Remaining()
	if amount > remaining {
		// Excess claims go through a separate payment request, never a
		// silent truncation.
		return depositdomain.ErrDeductionExceedsHold
	}

	_, err = s.ledger.PostTx(ctx, tx, ledgerdomain.PostingRequest{
		BookingID:       hold.BookingID,
		TransactionType: ledgerdomain.TxDispute,
		Currency:        hold.Currency,
		IdempotencyKey:  holdKey(hold.BookingID, ledgerdomain.TxDispute, hold.ID),
		Legs: []ledgerdomain.Leg{
			{AccountType: ledgerdomain.AccountCash, Side: ledgerdomain.SideDebit, Amount: amount},
			{AccountType: ledgerdomain.AccountPayable, Side: ledgerdomain.SideCredit, Amount: amount},
		},
	})
	if err != nil {
		return fmt.Errorf("post deposit deduction: %w", err)
	}

	released := remaining - amount
	if released > 0 {
		_, err = s.ledger.PostTx(ctx, tx, ledgerdomain.PostingRequest{
			BookingID:       hold.BookingID,
			TransactionType: ledgerdomain.TxDepositRelease,
			Currency:        hold.Currency,
			IdempotencyKey:  holdKey(hold.BookingID, ledgerdomain.TxDepositRelease, hold.ID),
			Legs: []ledgerdomain.Leg{
				{AccountType: ledgerdomain.AccountCash, Side: ledgerdomain.SideDebit, Amount: released},
				{AccountType: ledgerdomain.AccountLiability, Side: ledgerdomain.SideCredit, Amount: released},
			},
		})
		if err != nil {
			return fmt.Errorf("post remainder release: %w", err)
		}
	}

	now := time.Now().UTC()
	err = tx.WithContext(ctx).
		Model(&depositdomain.DepositHold{}).
		Where("id = ?", hold.ID).
		Updates(map[string]any{
			"status":           depositdomain.HoldCaptured,
			"amount_deducted":  hold.AmountDeducted + amount,
			"amount_released":  hold.AmountReleased + released,
			"deduction_reason": reason,
			"captured_at":      now,
			"released_at":      now,
			"updated_at":       now,
		}).Error
	if err != nil {
		return err
	}

	s.log.Info("deposit deducted",
		zap.String("booking_id", hold.BookingID.String()),
		zap.String("hold_id", hold.ID.String()),
		zap.Int64("deducted", amount),
		zap.Int64("released", released),
		zap.String("reason", reason),
	)
	return nil
}

func (s *Service) ForfeitTx(ctx context.Context, tx *gorm.DB, holdID snowflake.ID, status depositdomain.HoldStatus) error {
	if status != depositdomain.HoldExpired && status != depositdomain.HoldFailed {
		return depositdomain.ErrHoldNotActive
	}

	hold, err := s.lockHold(ctx, tx, holdID)
	if err != nil {
		return err
	}
	if hold.Status != depositdomain.HoldAuthorized {
		return depositdomain.ErrHoldNotActive
	}

	now := time.Now().UTC()
	return tx.WithContext(ctx).
		Model(&depositdomain.DepositHold{}).
		Where("id = ?", hold.ID).
		Updates(map[string]any{
			"status":           status,
			"amount_forfeited": hold.Remaining(),
			"updated_at":       now,
		}).Error
}

func (s *Service) ActiveHold(ctx context.Context, bookingID snowflake.ID) (*depositdomain.DepositHold, error) {
	var hold depositdomain.DepositHold
	err := s.db.WithContext(ctx).
		First(&hold, "booking_id = ? AND status = ?", bookingID, depositdomain.HoldAuthorized).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, depositdomain.ErrHoldNotFound
	}
	if err != nil {
		return nil, err
	}
	return &hold, nil
}

func (s *Service) Get(ctx context.Context, holdID snowflake.ID) (*depositdomain.DepositHold, error) {
	var hold depositdomain.DepositHold
	err := s.db.WithContext(ctx).First(&hold, "id = ?", holdID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, depositdomain.ErrHoldNotFound
	}
	if err != nil {
		return nil, err
	}
	return &hold, nil
}

func (s *Service) lockHold(ctx context.Context, tx *gorm.DB, holdID snowflake.ID) (*depositdomain.DepositHold, error) {
	var hold depositdomain.DepositHold
	err := db.ForUpdate(tx.WithContext(ctx)).
		First(&hold, "id = ?", holdID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, depositdomain.ErrHoldNotFound
	}
	if err != nil {
		return nil, err
	}
	return &hold, nil
}

func holdKey(bookingID snowflake.ID, txType ledgerdomain.TransactionType, holdID snowflake.ID) string {
	return fmt.Sprintf("%s:%s:%s", bookingID, txType, holdID)
}
