package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Service is the append-only ledger store.
//
// Tx variants run inside a caller-owned transaction so state transitions and
// their postings commit or roll back as one unit.
type Service interface {
	Post(ctx context.Context, req PostingRequest) (snowflake.ID, error)
	PostTx(ctx context.Context, tx *gorm.DB, req PostingRequest) (snowflake.ID, error)

	BookingBalance(ctx context.Context, bookingID snowflake.ID) ([]AccountBalance, error)
	EntriesByBooking(ctx context.Context, bookingID snowflake.ID) ([]LedgerEntry, error)

	// PendingOlderThan feeds the settlement orchestrator's reconciliation
	// sweep with postings whose legs are still PENDING past the cutoff.
	PendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]LedgerPosting, error)

	MarkPostingSettled(ctx context.Context, tx *gorm.DB, postingID snowflake.ID, at time.Time) error
	MarkPostingFailed(ctx context.Context, tx *gorm.DB, postingID snowflake.ID) error

	// SettlePendingByBooking marks every PENDING leg of the booking SETTLED,
	// skipping transaction types still awaiting an external movement. Terminal
	// transitions call it so no leg is left PENDING behind a closed booking.
	SettlePendingByBooking(ctx context.Context, tx *gorm.DB, bookingID snowflake.ID, at time.Time, except ...TransactionType) error

	// ReversePosting stores a compensating posting with flipped sides,
	// linked to the original. The original legs stay untouched.
	ReversePosting(ctx context.Context, tx *gorm.DB, postingID snowflake.ID, key string) (snowflake.ID, error)
}
