package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type HoldStatus string

const (
	HoldAuthorized HoldStatus = "AUTHORIZED"
	HoldCaptured   HoldStatus = "CAPTURED"
	HoldReleased   HoldStatus = "RELEASED"
	HoldExpired    HoldStatus = "EXPIRED"
	HoldFailed     HoldStatus = "FAILED"
)

// DepositHold is one security-deposit authorization per booking. At most one
// hold per booking may be in AUTHORIZED status at a time.
//
// Conservation invariant at closure:
// Amount == AmountReleased + AmountDeducted + AmountForfeited.
type DepositHold struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	BookingID       snowflake.ID `gorm:"not null;index"`
	Amount          int64        `gorm:"not null"`
	Currency        string       `gorm:"type:text;not null"`
	AuthorizationID string       `gorm:"type:text;not null"`
	Status          HoldStatus   `gorm:"type:text;not null;index"`
	AmountReleased  int64        `gorm:"not null;default:0"`
	AmountDeducted  int64        `gorm:"not null;default:0"`
	AmountForfeited int64        `gorm:"not null;default:0"`
	DeductionReason string       `gorm:"type:text"`
	CapturedAt      *time.Time   `gorm:""`
	ReleasedAt      *time.Time   `gorm:""`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (DepositHold) TableName() string { return "deposit_holds" }

// Closed reports whether the hold has reached a terminal status.
func (h DepositHold) Closed() bool {
	switch h.Status {
	case HoldCaptured, HoldReleased, HoldExpired, HoldFailed:
		return true
	}
	return false
}

// Remaining is the portion of the hold not yet deducted or released.
func (h DepositHold) Remaining() int64 {
	return h.Amount - h.AmountDeducted - h.AmountReleased - h.AmountForfeited
}
