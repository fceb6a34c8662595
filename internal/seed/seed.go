// Package seed bootstraps a development database with a demo booking so a
// fresh instance has something to drive the API against.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/samujjwal/rental-sub004/internal/booking/domain"
	"gorm.io/gorm"
)

const (
	demoBasePrice     = 10_000
	demoServiceFee    = 1_000
	demoTax           = 500
	demoDepositAmount = 5_000
	demoOwnerEarnings = 8_500
	demoPlatformFee   = 1_500
)

// EnsureDemoBooking inserts one DRAFT booking when the table is empty.
func EnsureDemoBooking(db *gorm.DB, node *snowflake.Node) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&bookingdomain.Booking{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		now := time.Now().UTC()
		booking := bookingdomain.Booking{
			ID:         node.Generate(),
			ListingID:  node.Generate(),
			RenterID:   node.Generate(),
			OwnerID:    node.Generate(),
			StartAt:    now.Add(7 * 24 * time.Hour),
			EndAt:      now.Add(10 * 24 * time.Hour),
			GuestCount: 2,

			BasePrice:          demoBasePrice,
			ServiceFee:         demoServiceFee,
			Tax:                demoTax,
			DepositAmount:      demoDepositAmount,
			TotalPrice:         demoBasePrice + demoServiceFee + demoTax,
			OwnerEarnings:      demoOwnerEarnings,
			PlatformFee:        demoPlatformFee,
			Currency:           "USD",
			Status:             bookingdomain.StatusDraft,
			Mode:               bookingdomain.ModeRequestToBook,
			CancellationPolicy: "MODERATE",

			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.Create(&booking).Error
	})
}
