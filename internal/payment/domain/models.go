// Package domain contains money-movement records exchanged with the
// external payment processor.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// MovementStatus is the processor-side status of a payment, refund or payout.
type MovementStatus string

const (
	MovementPending   MovementStatus = "PENDING"
	MovementSucceeded MovementStatus = "SUCCEEDED"
	MovementFailed    MovementStatus = "FAILED"
)

// Payment records one capture attempt against the processor for a booking.
type Payment struct {
	ID             snowflake.ID   `gorm:"primaryKey"`
	BookingID      snowflake.ID   `gorm:"not null;index"`
	IntentID       string         `gorm:"type:text;not null;index"`
	IdempotencyKey string         `gorm:"type:text;not null;uniqueIndex:ux_payments_idem_key"`
	Amount         int64          `gorm:"not null"`
	Currency       string         `gorm:"type:text;not null"`
	Status         MovementStatus `gorm:"type:text;not null;index"`
	Attempts       int            `gorm:"not null;default:0"`
	NextAttemptAt  *time.Time     `gorm:"index"`
	ProcessedAt    *time.Time     `gorm:""`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// Refund records money returned to the renter.
type Refund struct {
	ID             snowflake.ID   `gorm:"primaryKey"`
	BookingID      snowflake.ID   `gorm:"not null;index"`
	IntentID       string         `gorm:"type:text;not null"`
	IdempotencyKey string         `gorm:"type:text;not null;uniqueIndex:ux_refunds_idem_key"`
	Amount         int64          `gorm:"not null"`
	Currency       string         `gorm:"type:text;not null"`
	Reason         string         `gorm:"type:text"`
	Status         MovementStatus `gorm:"type:text;not null;index"`
	Attempts       int            `gorm:"not null;default:0"`
	NextAttemptAt  *time.Time     `gorm:"index"`
	ProcessedAt    *time.Time     `gorm:""`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Refund) TableName() string { return "refunds" }

// Payout records an owner transfer computed at settlement.
type Payout struct {
	ID             snowflake.ID   `gorm:"primaryKey"`
	OwnerID        snowflake.ID   `gorm:"not null;index"`
	BookingID      snowflake.ID   `gorm:"not null;index"`
	IdempotencyKey string         `gorm:"type:text;not null;uniqueIndex:ux_payouts_idem_key"`
	Amount         int64          `gorm:"not null"`
	Currency       string         `gorm:"type:text;not null"`
	Status         MovementStatus `gorm:"type:text;not null;index"`
	Attempts       int            `gorm:"not null;default:0"`
	NextAttemptAt  *time.Time     `gorm:"index"`
	ProcessedAt    *time.Time     `gorm:""`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Payout) TableName() string { return "payouts" }
