package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// CreateRequest describes a new DRAFT booking from the booking-creation flow.
type CreateRequest struct {
	ListingID  snowflake.ID
	RenterID   snowflake.ID
	OwnerID    snowflake.ID
	StartAt    time.Time
	EndAt      time.Time
	GuestCount int

	BasePrice      int64
	ServiceFee     int64
	Tax            int64
	DiscountAmount int64
	DepositAmount  int64
	OwnerEarnings  int64
	PlatformFee    int64
	Currency       string

	Mode               Mode
	CancellationPolicy string
}

// TransitionRequest asks for one edge of the state machine.
type TransitionRequest struct {
	BookingID snowflake.ID
	Action    Action
	Actor     string
	Reason    string
}

// Service owns the booking lifecycle. Transition runs validation, side
// effects, state write and history append in one transaction; a side-effect
// failure rolls the whole edge back and surfaces ErrTransitionFailed.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Booking, error)
	Get(ctx context.Context, id snowflake.ID) (*Booking, error)
	History(ctx context.Context, id snowflake.ID) ([]StateHistory, error)

	// Transition serves renter and owner actions; restricted actions are
	// rejected with ErrActionRestricted.
	Transition(ctx context.Context, req TransitionRequest) (*Booking, error)

	// SystemTransition is the scheduler entry point and additionally admits
	// TIMEOUT_APPROVAL, TIMEOUT_PAYMENT and SETTLE with full side effects.
	SystemTransition(ctx context.Context, req TransitionRequest) (*Booking, error)

	// ForceTransitionTx applies an edge inside the caller's transaction for
	// the dispute workflow. RESOLVE_SETTLE runs full settlement side effects;
	// the other dispute edges write state and history only, with the dispute
	// workflow posting its own ledger legs.
	ForceTransitionTx(ctx context.Context, tx *gorm.DB, req TransitionRequest) (*Booking, error)
}
