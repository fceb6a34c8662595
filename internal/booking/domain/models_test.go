package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePricing(t *testing.T) {
	valid := Booking{
		BasePrice:     10_000,
		ServiceFee:    1_000,
		Tax:           500,
		TotalPrice:    11_500,
		OwnerEarnings: 8_500,
		PlatformFee:   1_500,
	}
	assert.NoError(t, valid.ValidatePricing())

	withDiscount := valid
	withDiscount.DiscountAmount = 500
	withDiscount.TotalPrice = 11_000
	assert.NoError(t, withDiscount.ValidatePricing())

	badTotal := valid
	badTotal.TotalPrice = 12_000
	assert.ErrorIs(t, badTotal.ValidatePricing(), ErrInvalidPricing)

	badSplit := valid
	badSplit.OwnerEarnings = 9_000
	assert.ErrorIs(t, badSplit.ValidatePricing(), ErrInvalidPricing)

	negative := valid
	negative.Tax = -1
	assert.ErrorIs(t, negative.ValidatePricing(), ErrInvalidPricing)
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusSettled, StatusCancelled, StatusRefunded} {
		assert.True(t, s.Terminal(), string(s))
	}
	for _, s := range []Status{StatusDraft, StatusConfirmed, StatusCompleted, StatusDisputed} {
		assert.False(t, s.Terminal(), string(s))
	}
}
