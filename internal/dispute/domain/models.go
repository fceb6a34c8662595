// Package domain models the dispute workflow attached to a booking. A
// dispute holds a one-way reference to its booking; the booking never
// references back.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusOpen             Status = "OPEN"
	StatusUnderReview      Status = "UNDER_REVIEW"
	StatusInvestigating    Status = "INVESTIGATING"
	StatusAwaitingResponse Status = "AWAITING_RESPONSE"
	StatusInMediation      Status = "IN_MEDIATION"
	StatusResolved         Status = "RESOLVED"
	StatusClosed           Status = "CLOSED"
)

// Terminal reports whether the dispute can no longer change.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusClosed
}

type DisputeType string

const (
	TypeDamage  DisputeType = "DAMAGE"
	TypePayment DisputeType = "PAYMENT"
	TypeService DisputeType = "SERVICE"
	TypeOther   DisputeType = "OTHER"
)

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

type Outcome string

const (
	OutcomeFavorInitiator Outcome = "RESOLVED_FAVOR_INITIATOR"
	OutcomeFavorDefendant Outcome = "RESOLVED_FAVOR_DEFENDANT"
	OutcomeCompromise     Outcome = "RESOLVED_COMPROMISE"
	OutcomeNoAction       Outcome = "RESOLVED_NO_ACTION"
	OutcomeEscalated      Outcome = "ESCALATED"
	OutcomeCancelled      Outcome = "CANCELLED"
)

type Dispute struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	BookingID     snowflake.ID `gorm:"not null;index"`
	InitiatorID   snowflake.ID `gorm:"not null"`
	DefendantID   snowflake.ID `gorm:"not null"`
	Type          DisputeType  `gorm:"type:text;not null"`
	ClaimedAmount int64        `gorm:"not null"`
	Currency      string       `gorm:"type:text;not null"`
	Description   string       `gorm:"type:text"`
	Status        Status       `gorm:"type:text;not null;index"`
	Priority      Priority     `gorm:"type:text;not null"`
	SLADeadline   time.Time    `gorm:"not null"`
	AssignedTo    string       `gorm:"type:text"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Dispute) TableName() string { return "disputes" }

// Resolution is the terminal record, created exactly once at closure.
type Resolution struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	DisputeID        snowflake.ID `gorm:"not null;uniqueIndex:ux_dispute_resolutions_dispute"`
	Outcome          Outcome      `gorm:"type:text;not null"`
	RefundAmount     int64        `gorm:"not null;default:0"`
	PayoutAdjustment int64        `gorm:"not null;default:0"`
	ResolvedBy       string       `gorm:"type:text;not null"`
	Notes            string       `gorm:"type:text"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Resolution) TableName() string { return "dispute_resolutions" }

// workflow lists the interactive edges; RESOLVED and CLOSED are reachable
// only through Resolve.
var workflow = map[Status][]Status{
	StatusOpen:             {StatusUnderReview, StatusInvestigating},
	StatusUnderReview:      {StatusInvestigating, StatusAwaitingResponse, StatusInMediation},
	StatusInvestigating:    {StatusAwaitingResponse, StatusInMediation},
	StatusAwaitingResponse: {StatusInMediation},
	StatusInMediation:      {StatusAwaitingResponse},
}

// CanMove validates one interactive workflow edge.
func CanMove(from, to Status) bool {
	for _, next := range workflow[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PriorityFor derives the triage priority from the claimed amount in cents.
func PriorityFor(claimedAmount int64) Priority {
	switch {
	case claimedAmount >= 100_000:
		return PriorityUrgent
	case claimedAmount >= 20_000:
		return PriorityHigh
	case claimedAmount >= 5_000:
		return PriorityNormal
	}
	return PriorityLow
}

// SLAWindow is the first-response window per priority.
func SLAWindow(p Priority) time.Duration {
	switch p {
	case PriorityUrgent:
		return 4 * time.Hour
	case PriorityHigh:
		return 12 * time.Hour
	case PriorityNormal:
		return 24 * time.Hour
	}
	return 72 * time.Hour
}
