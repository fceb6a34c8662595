package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// OpenRequest files a dispute against a booking.
type OpenRequest struct {
	BookingID     snowflake.ID
	InitiatorID   snowflake.ID
	DefendantID   snowflake.ID
	Type          DisputeType
	ClaimedAmount int64
	Description   string
}

// ResolveRequest closes a dispute with compensating amounts.
type ResolveRequest struct {
	DisputeID        snowflake.ID
	Outcome          Outcome
	RefundAmount     int64
	PayoutAdjustment int64
	ResolvedBy       string
	Notes            string
}

// Service runs the dispute workflow. Resolve writes the resolution row,
// posts the compensating ledger legs and force-transitions the booking as
// one atomic unit; a failed booking transition rolls everything back.
type Service interface {
	Open(ctx context.Context, req OpenRequest) (*Dispute, error)
	Get(ctx context.Context, id snowflake.ID) (*Dispute, *Resolution, error)
	Assign(ctx context.Context, id snowflake.ID, assignee string) (*Dispute, error)
	Move(ctx context.Context, id snowflake.ID, to Status) (*Dispute, error)
	Resolve(ctx context.Context, req ResolveRequest) (*Resolution, error)
}
