package domain

import "errors"

var (
	ErrBookingNotFound    = errors.New("booking_not_found")
	ErrInvalidPricing     = errors.New("invalid_pricing")
	ErrInvalidTransition  = errors.New("invalid_transition")
	ErrTransitionFailed   = errors.New("transition_failed")
	ErrVersionConflict    = errors.New("version_conflict")
	ErrActionRestricted   = errors.New("action_restricted")
	ErrDeadlineNotReached = errors.New("deadline_not_reached")
	ErrCheckInNotReached  = errors.New("check_in_not_reached")
)
