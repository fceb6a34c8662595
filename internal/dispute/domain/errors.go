package domain

import "errors"

var (
	ErrDisputeNotFound      = errors.New("dispute_not_found")
	ErrDisputeAlreadyOpen   = errors.New("dispute_already_open")
	ErrBookingNotDisputable = errors.New("booking_not_disputable")
	ErrFilingWindowClosed   = errors.New("filing_window_closed")
	ErrAlreadyResolved      = errors.New("dispute_already_resolved")
	ErrInvalidStatusChange  = errors.New("invalid_status_change")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidOutcome       = errors.New("invalid_outcome")
)
