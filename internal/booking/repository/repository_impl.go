package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/samujjwal/rental-sub004/internal/booking/domain"
	"github.com/samujjwal/rental-sub004/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() bookingdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking) error {
	return tx.WithContext(ctx).Create(booking).Error
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*bookingdomain.Booking, error) {
	var booking bookingdomain.Booking
	err := tx.WithContext(ctx).First(&booking, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, bookingdomain.ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*bookingdomain.Booking, error) {
	var booking bookingdomain.Booking
	err := db.ForUpdate(tx.WithContext(ctx)).First(&booking, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, bookingdomain.ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func (r *repo) UpdateTransition(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking, expectedVersion int64) error {
	booking.Version = expectedVersion + 1
	booking.UpdatedAt = time.Now().UTC()

	res := tx.WithContext(ctx).
		Model(&bookingdomain.Booking{}).
		Where("id = ? AND version = ?", booking.ID, expectedVersion).
		Updates(map[string]any{
			"status":            booking.Status,
			"version":           booking.Version,
			"approval_deadline": booking.ApprovalDeadline,
			"payment_deadline":  booking.PaymentDeadline,
			"cancelled_at":      booking.CancelledAt,
			"cancelled_by":      booking.CancelledBy,
			"cancel_reason":     booking.CancelReason,
			"refund_fraction":   booking.RefundFraction,
			"payment_intent_id": booking.PaymentIntentID,
			"deposit_hold_id":   booking.DepositHoldID,
			"updated_at":        booking.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return bookingdomain.ErrVersionConflict
	}
	return nil
}

func (r *repo) AppendHistory(ctx context.Context, tx *gorm.DB, row *bookingdomain.StateHistory) error {
	return tx.WithContext(ctx).Create(row).Error
}

func (r *repo) History(ctx context.Context, tx *gorm.DB, bookingID snowflake.ID) ([]bookingdomain.StateHistory, error) {
	var rows []bookingdomain.StateHistory
	err := tx.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("created_at, id").
		Find(&rows).Error
	return rows, err
}

func (r *repo) ListByStatus(ctx context.Context, tx *gorm.DB, status bookingdomain.Status, limit int) ([]bookingdomain.Booking, error) {
	var bookings []bookingdomain.Booking
	err := tx.WithContext(ctx).
		Where("status = ?", status).
		Order("updated_at").
		Limit(limit).
		Find(&bookings).Error
	return bookings, err
}

func (r *repo) ListApprovalExpired(ctx context.Context, tx *gorm.DB, before time.Time, limit int) ([]bookingdomain.Booking, error) {
	var bookings []bookingdomain.Booking
	err := tx.WithContext(ctx).
		Where("status = ? AND approval_deadline IS NOT NULL AND approval_deadline < ?",
			bookingdomain.StatusPendingOwnerApproval, before.UTC()).
		Order("approval_deadline").
		Limit(limit).
		Find(&bookings).Error
	return bookings, err
}

func (r *repo) ListPaymentExpired(ctx context.Context, tx *gorm.DB, before time.Time, limit int) ([]bookingdomain.Booking, error) {
	var bookings []bookingdomain.Booking
	err := tx.WithContext(ctx).
		Where("status = ? AND payment_deadline IS NOT NULL AND payment_deadline < ?",
			bookingdomain.StatusPendingPayment, before.UTC()).
		Order("payment_deadline").
		Limit(limit).
		Find(&bookings).Error
	return bookings, err
}
