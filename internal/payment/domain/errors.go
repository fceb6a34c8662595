package domain

import "errors"

var (
	// ErrExternalPending is a suspension, not a failure: the processor has
	// not confirmed yet and the caller should poll or wait for a webhook.
	ErrExternalPending = errors.New("external_pending")

	// ErrExternalFailed means the processor declined; the movement is not
	// retried with the same intent.
	ErrExternalFailed = errors.New("external_failed")

	ErrProviderNotFound = errors.New("payment_provider_not_found")
	ErrInvalidAmount    = errors.New("invalid_amount")
)
