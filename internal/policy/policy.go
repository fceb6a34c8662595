// Package policy evaluates cancellation policies into refund fractions.
// The state machine consumes the returned fraction and never encodes
// policy rules itself.
package policy

import (
	"context"
	"strings"
	"time"
)

// Tier names the cancellation policy attached to a listing.
type Tier string

const (
	TierFlexible Tier = "FLEXIBLE"
	TierModerate Tier = "MODERATE"
	TierStrict   Tier = "STRICT"
)

// Request identifies the booking being cancelled.
type Request struct {
	Tier        Tier
	StartAt     time.Time
	CancelledAt time.Time
}

// Evaluator returns the refundable fraction of the paid amount, in [0, 1].
type Evaluator interface {
	RefundFraction(ctx context.Context, req Request) (float64, error)
}

type rule struct {
	noticeAtLeast time.Duration
	fraction      float64
}

// tableEvaluator walks a notice-period schedule per tier. Rules are ordered
// longest notice first; the first satisfied rule wins.
type tableEvaluator struct {
	schedules map[Tier][]rule
	fallback  float64
}

func NewEvaluator() Evaluator {
	return &tableEvaluator{
		schedules: map[Tier][]rule{
			TierFlexible: {
				{noticeAtLeast: 24 * time.Hour, fraction: 1.0},
				{noticeAtLeast: 0, fraction: 0.5},
			},
			TierModerate: {
				{noticeAtLeast: 5 * 24 * time.Hour, fraction: 1.0},
				{noticeAtLeast: 24 * time.Hour, fraction: 0.5},
				{noticeAtLeast: 0, fraction: 0},
			},
			TierStrict: {
				{noticeAtLeast: 7 * 24 * time.Hour, fraction: 0.5},
				{noticeAtLeast: 0, fraction: 0},
			},
		},
		fallback: 0.5,
	}
}

func (e *tableEvaluator) RefundFraction(_ context.Context, req Request) (float64, error) {
	tier := Tier(strings.ToUpper(strings.TrimSpace(string(req.Tier))))
	schedule, ok := e.schedules[tier]
	if !ok {
		// Unknown tiers fall back to a half refund rather than failing the
		// cancellation outright.
		return e.fallback, nil
	}

	notice := req.StartAt.Sub(req.CancelledAt)
	if notice < 0 {
		notice = 0
	}
	for _, r := range schedule {
		if notice >= r.noticeAtLeast {
			return r.fraction, nil
		}
	}
	return 0, nil
}
