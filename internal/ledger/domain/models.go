// Package domain contains persistence models for the double-entry ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Side represents debit or credit postings.
type Side string

const (
	SideDebit  Side = "DEBIT"
	SideCredit Side = "CREDIT"
)

// AccountType is the chart-of-accounts bucket a leg posts against.
type AccountType string

const (
	AccountRevenue    AccountType = "REVENUE"
	AccountExpense    AccountType = "EXPENSE"
	AccountLiability  AccountType = "LIABILITY"
	AccountAsset      AccountType = "ASSET"
	AccountEquity     AccountType = "EQUITY"
	AccountCash       AccountType = "CASH"
	AccountReceivable AccountType = "RECEIVABLE"
	AccountPayable    AccountType = "PAYABLE"
)

// TransactionType tags every posting with the money movement it records.
type TransactionType string

const (
	TxPayment        TransactionType = "PAYMENT"
	TxPlatformFee    TransactionType = "PLATFORM_FEE"
	TxServiceFee     TransactionType = "SERVICE_FEE"
	TxOwnerEarning   TransactionType = "OWNER_EARNING"
	TxDepositHold    TransactionType = "DEPOSIT_HOLD"
	TxDepositRelease TransactionType = "DEPOSIT_RELEASE"
	TxRefund         TransactionType = "REFUND"
	TxPayout         TransactionType = "PAYOUT"
	TxDispute        TransactionType = "DISPUTE"
)

// EntryStatus is the settlement status of one ledger leg.
type EntryStatus string

const (
	EntryPending  EntryStatus = "PENDING"
	EntrySettled  EntryStatus = "SETTLED"
	EntryFailed   EntryStatus = "FAILED"
	EntryReversed EntryStatus = "REVERSED"
)

// LedgerPosting is the immutable header grouping the legs of one balanced
// financial event. The idempotency key is caller-generated
// (bookingID:transactionType:sequence) and unique.
type LedgerPosting struct {
	ID              snowflake.ID    `gorm:"primaryKey"`
	BookingID       snowflake.ID    `gorm:"not null;index"`
	TransactionType TransactionType `gorm:"type:text;not null"`
	Currency        string          `gorm:"type:text;not null"`
	IdempotencyKey  string          `gorm:"type:text;not null;uniqueIndex:ux_ledger_postings_idem_key"`
	LegFingerprint  string          `gorm:"type:text;not null"`
	ReversalOf      *snowflake.ID   `gorm:"index"`
	CreatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LedgerPosting) TableName() string { return "ledger_postings" }

// LedgerEntry is one debit or credit leg within a posting.
type LedgerEntry struct {
	ID              snowflake.ID    `gorm:"primaryKey"`
	PostingID       snowflake.ID    `gorm:"not null;index"`
	BookingID       snowflake.ID    `gorm:"not null;index"`
	AccountType     AccountType     `gorm:"type:text;not null"`
	Side            Side            `gorm:"type:text;not null"`
	Amount          int64           `gorm:"not null"`
	Currency        string          `gorm:"type:text;not null"`
	TransactionType TransactionType `gorm:"type:text;not null;index"`
	Status          EntryStatus     `gorm:"type:text;not null;index"`
	CreatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	SettledAt       *time.Time      `gorm:""`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }

// Leg is the caller-facing description of one side of a posting.
type Leg struct {
	AccountType AccountType
	Side        Side
	Amount      int64
}

// PostingRequest describes a balanced posting to store.
type PostingRequest struct {
	BookingID       snowflake.ID
	TransactionType TransactionType
	Currency        string
	IdempotencyKey  string
	Legs            []Leg
}

// AccountBalance is the running net (debits minus credits) for one account
// bucket of a booking.
type AccountBalance struct {
	AccountType AccountType
	Currency    string
	Net         int64
}

// ValidateBalanced checks that debit and credit totals match.
func ValidateBalanced(legs []Leg) error {
	if len(legs) < 2 {
		return ErrInvalidLegs
	}
	var debits, credits int64
	for _, leg := range legs {
		if leg.Amount <= 0 {
			return ErrInvalidLegAmount
		}
		switch leg.Side {
		case SideDebit:
			debits += leg.Amount
		case SideCredit:
			credits += leg.Amount
		default:
			return ErrInvalidLegSide
		}
	}
	if debits != credits {
		return ErrUnbalancedPosting
	}
	return nil
}
