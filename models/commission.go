// models/commission.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind is the kind of qualifying occurrence
type EventKind string

const (
	EventSale          EventKind = "SALE"
	EventTask          EventKind = "TASK"
	EventReferralBonus EventKind = "REFERRAL_BONUS"
)

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventSale, EventTask, EventReferralBonus:
		return true
	}
	return false
}

// EventStatus tracks a commission event through distribution
type EventStatus string

const (
	StatusReceived           EventStatus = "RECEIVED"
	StatusResolvingAncestors EventStatus = "RESOLVING_ANCESTORS"
	StatusRatesLookedUp      EventStatus = "RATES_LOOKED_UP"
	StatusEntriesWritten     EventStatus = "ENTRIES_WRITTEN"
	StatusDone               EventStatus = "DONE"
	StatusFailed             EventStatus = "FAILED"
)

// EntryKind distinguishes credits from offsetting reversals
type EntryKind string

const (
	EntryCredit   EntryKind = "CREDIT"
	EntryReversal EntryKind = "REVERSAL"
)

// CommissionEvent is a qualifying occurrence submitted by checkout or task completion
type CommissionEvent struct {
	ID         string          `json:"eventId"`
	Kind       EventKind       `json:"kind"`
	MemberID   string          `json:"memberId"`
	BaseAmount decimal.Decimal `json:"baseAmount"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// SameAs reports whether two submissions carry the same payload.
func (e CommissionEvent) SameAs(o CommissionEvent) bool {
	return e.ID == o.ID && e.Kind == o.Kind && e.MemberID == o.MemberID && e.BaseAmount.Equal(o.BaseAmount)
}

// SubmitEventRequest is the body of POST /api/commission-events
type SubmitEventRequest struct {
	EventID    string          `json:"eventId" validate:"required,max=128"`
	Kind       EventKind       `json:"kind" validate:"required,oneof=SALE TASK REFERRAL_BONUS"`
	MemberID   string          `json:"memberId" validate:"required"`
	BaseAmount decimal.Decimal `json:"baseAmount" validate:"gt=0"`
	OccurredAt *time.Time      `json:"occurredAt,omitempty"`
}

// ReverseEventRequest is the body of POST /api/commission-events/:id/reverse
type ReverseEventRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// CommissionRecord is the persisted outcome of one event
type CommissionRecord struct {
	CommissionEvent
	Status        EventStatus     `json:"status"`
	RateVersion   int64           `json:"rateVersion"`
	TotalCredited decimal.Decimal `json:"totalCredited"`
	Error         string          `json:"error,omitempty"`
	Reversed      bool            `json:"reversed"`
	ReverseReason string          `json:"reverseReason,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	ProcessedAt   *time.Time      `json:"processedAt,omitempty"`
}

// LedgerEntry credits (or reverses) one ancestor for one event and level.
// Levels start at 1.
type LedgerEntry struct {
	ID            string          `json:"id"`
	EventID       string          `json:"eventId"`
	BeneficiaryID string          `json:"beneficiaryId"`
	Level         int             `json:"level"`
	Amount        decimal.Decimal `json:"amount"`
	RateApplied   decimal.Decimal `json:"rateApplied"`
	Kind          EntryKind       `json:"kind"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// DistributionResult is returned by submit and reverse
type DistributionResult struct {
	Record    CommissionRecord `json:"event"`
	Entries   []LedgerEntry    `json:"entries"`
	Duplicate bool             `json:"duplicate"`
}
