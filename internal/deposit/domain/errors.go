package domain

import "errors"

var (
	ErrInvalidBooking       = errors.New("invalid_booking")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidCurrency      = errors.New("invalid_currency")
	ErrHoldNotFound         = errors.New("hold_not_found")
	ErrHoldNotActive        = errors.New("hold_not_active")
	ErrHoldAlreadyActive    = errors.New("hold_already_active")
	ErrDeductionExceedsHold = errors.New("deduction_exceeds_hold")
)
