// Package gateway defines the processor-facing contract. Adapters under
// internal/payment/adapters implement it; everything else in the module
// depends on this interface only.
package gateway

import (
	"context"

	"github.com/samujjwal/rental-sub004/internal/payment/domain"
)

// Result is the processor's answer to a money movement request.
type Result struct {
	// Reference is the processor-side identifier (intent, refund or
	// transfer id). Stable across retries with the same idempotency key.
	Reference string
	Status    domain.MovementStatus
}

// Config carries adapter credentials resolved from the environment.
type Config struct {
	APIKey   string
	Endpoint string
}

// Factory builds a Gateway for one provider.
type Factory interface {
	Provider() string
	New(cfg Config) (Gateway, error)
}

// Gateway abstracts the external payment processor. Every call carries a
// caller-supplied idempotency key so retries after a crash or timeout never
// move money twice.
type Gateway interface {
	// Authorize places a hold for amount plus deposit without capturing.
	Authorize(ctx context.Context, key string, bookingID string, amount int64, currency string) (Result, error)

	// Capture settles a previously authorized intent.
	Capture(ctx context.Context, key string, intentID string, amount int64) (Result, error)

	// Refund returns captured funds to the renter.
	Refund(ctx context.Context, key string, intentID string, amount int64) (Result, error)

	// Transfer pays out to an owner's connected account.
	Transfer(ctx context.Context, key string, ownerID string, amount int64, currency string) (Result, error)

	// IntentStatus polls the processor for the current state of an intent.
	IntentStatus(ctx context.Context, intentID string) (Result, error)
}
