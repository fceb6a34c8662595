package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Service manages security-deposit holds. Every mutation posts the matching
// ledger legs inside the caller's transaction so hold state and ledger state
// never diverge.
type Service interface {
	// AuthorizeTx opens the hold on entry to CONFIRMED and posts the
	// DEPOSIT_HOLD leg pair.
	AuthorizeTx(ctx context.Context, tx *gorm.DB, bookingID snowflake.ID, amount int64, currency, authorizationID string) (snowflake.ID, error)

	// ReleaseTx returns the full remaining hold and posts the reversing
	// DEPOSIT_RELEASE legs.
	ReleaseTx(ctx context.Context, tx *gorm.DB, holdID snowflake.ID) error

	// DeductTx captures up to the held amount for a damage claim, releases
	// the remainder, and posts a DISPUTE leg pair for the deducted portion.
	// A claim beyond the held amount fails with ErrDeductionExceedsHold.
	DeductTx(ctx context.Context, tx *gorm.DB, holdID snowflake.ID, amount int64, reason string) error

	// ForfeitTx closes the hold without release when the authorization
	// expired or the processor failed it.
	ForfeitTx(ctx context.Context, tx *gorm.DB, holdID snowflake.ID, status HoldStatus) error

	ActiveHold(ctx context.Context, bookingID snowflake.ID) (*DepositHold, error)
	Get(ctx context.Context, holdID snowflake.ID) (*DepositHold, error)
}
