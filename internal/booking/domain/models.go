// Package domain holds the booking aggregate and its state machine
// vocabulary. Bookings are created in DRAFT, mutated only through the state
// machine, and never deleted.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusDraft                    Status = "DRAFT"
	StatusPendingOwnerApproval     Status = "PENDING_OWNER_APPROVAL"
	StatusPendingPayment           Status = "PENDING_PAYMENT"
	StatusConfirmed                Status = "CONFIRMED"
	StatusActive                   Status = "ACTIVE"
	StatusInProgress               Status = "IN_PROGRESS"
	StatusAwaitingReturnInspection Status = "AWAITING_RETURN_INSPECTION"
	StatusCompleted                Status = "COMPLETED"
	StatusSettled                  Status = "SETTLED"
	StatusCancelled                Status = "CANCELLED"
	StatusDisputed                 Status = "DISPUTED"
	StatusRefunded                 Status = "REFUNDED"
)

// Terminal reports whether the status has no outgoing edges at all.
func (s Status) Terminal() bool {
	switch s {
	case StatusSettled, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

type Mode string

const (
	ModeInstantBook   Mode = "INSTANT_BOOK"
	ModeRequestToBook Mode = "REQUEST_TO_BOOK"
)

// Action labels one requested edge of the state machine.
type Action string

const (
	ActionSubmit             Action = "SUBMIT"
	ActionApprove            Action = "APPROVE"
	ActionReject             Action = "REJECT"
	ActionConfirmPayment     Action = "CONFIRM_PAYMENT"
	ActionFailPayment        Action = "FAIL_PAYMENT"
	ActionCheckIn            Action = "CHECK_IN"
	ActionRecordCheckIn      Action = "RECORD_CHECK_IN"
	ActionInitiateReturn     Action = "INITIATE_RETURN"
	ActionCompleteInspection Action = "COMPLETE_INSPECTION"
	ActionCancel             Action = "CANCEL"

	// Scheduler-only actions.
	ActionTimeoutApproval Action = "TIMEOUT_APPROVAL"
	ActionTimeoutPayment  Action = "TIMEOUT_PAYMENT"
	ActionSettle          Action = "SETTLE"

	// Dispute-workflow-only actions.
	ActionOpenDispute   Action = "OPEN_DISPUTE"
	ActionResolveSettle Action = "RESOLVE_SETTLE"
	ActionResolveRefund Action = "RESOLVE_REFUND"
)

// Booking is one rental transaction and the aggregate root. Ledger entries,
// deposit holds and disputes reference it by id only.
type Booking struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	ListingID snowflake.ID `gorm:"not null;index"`
	RenterID  snowflake.ID `gorm:"not null;index"`
	OwnerID   snowflake.ID `gorm:"not null;index"`

	StartAt    time.Time `gorm:"not null"`
	EndAt      time.Time `gorm:"not null"`
	GuestCount int       `gorm:"not null;default:1"`

	BasePrice      int64  `gorm:"not null"`
	ServiceFee     int64  `gorm:"not null;default:0"`
	Tax            int64  `gorm:"not null;default:0"`
	DiscountAmount int64  `gorm:"not null;default:0"`
	DepositAmount  int64  `gorm:"not null;default:0"`
	TotalPrice     int64  `gorm:"not null"`
	OwnerEarnings  int64  `gorm:"not null"`
	PlatformFee    int64  `gorm:"not null"`
	Currency       string `gorm:"type:text;not null"`

	Status Status `gorm:"type:text;not null;index"`
	Mode   Mode   `gorm:"type:text;not null"`

	// Version is bumped on every transition; a stale write loses.
	Version int64 `gorm:"not null;default:0"`

	CancellationPolicy string `gorm:"type:text;not null;default:MODERATE"`

	ApprovalDeadline *time.Time `gorm:"index"`
	PaymentDeadline  *time.Time `gorm:"index"`

	CancelledAt    *time.Time `gorm:""`
	CancelledBy    string     `gorm:"type:text"`
	CancelReason   string     `gorm:"type:text"`
	RefundFraction float64    `gorm:"not null;default:0"`

	PaymentIntentID string        `gorm:"type:text"`
	DepositHoldID   *snowflake.ID `gorm:""`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Booking) TableName() string { return "bookings" }

// ValidatePricing enforces the two price-breakdown invariants. The fee split
// is immutable once computed.
func (b *Booking) ValidatePricing() error {
	if b.BasePrice < 0 || b.ServiceFee < 0 || b.Tax < 0 || b.DiscountAmount < 0 || b.DepositAmount < 0 {
		return ErrInvalidPricing
	}
	if b.TotalPrice != b.BasePrice+b.ServiceFee+b.Tax-b.DiscountAmount {
		return ErrInvalidPricing
	}
	if b.OwnerEarnings+b.PlatformFee != b.BasePrice {
		return ErrInvalidPricing
	}
	return nil
}

// StateHistory is the immutable audit row appended on every transition.
type StateHistory struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	BookingID  snowflake.ID `gorm:"not null;index"`
	FromStatus Status       `gorm:"type:text;not null"`
	ToStatus   Status       `gorm:"type:text;not null"`
	Action     Action       `gorm:"type:text;not null"`
	Actor      string       `gorm:"type:text;not null"`
	Reason     string       `gorm:"type:text"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (StateHistory) TableName() string { return "booking_state_history" }
