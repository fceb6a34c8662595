package domain

import "errors"

var (
	ErrInvalidBooking      = errors.New("invalid_booking")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidTxType       = errors.New("invalid_transaction_type")
	ErrInvalidKey          = errors.New("invalid_idempotency_key")
	ErrInvalidLegs         = errors.New("invalid_entry_legs")
	ErrInvalidLegAmount    = errors.New("invalid_leg_amount")
	ErrInvalidLegSide      = errors.New("invalid_leg_side")
	ErrUnbalancedPosting   = errors.New("unbalanced_posting")
	ErrIdempotencyConflict = errors.New("idempotency_conflict")
	ErrPostingNotFound     = errors.New("posting_not_found")
	ErrPostingSettled      = errors.New("posting_already_settled")
)
