package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, booking *Booking) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Booking, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Booking, error)

	// UpdateTransition persists the mutated booking, bumping Version; a
	// stale expectedVersion returns ErrVersionConflict.
	UpdateTransition(ctx context.Context, db *gorm.DB, booking *Booking, expectedVersion int64) error

	AppendHistory(ctx context.Context, db *gorm.DB, row *StateHistory) error
	History(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) ([]StateHistory, error)

	// Scheduler feeds.
	ListByStatus(ctx context.Context, db *gorm.DB, status Status, limit int) ([]Booking, error)
	ListApprovalExpired(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]Booking, error)
	ListPaymentExpired(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]Booking, error)
}
