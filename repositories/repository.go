package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/HSouheill/barrim_referral/models"
)

var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey is returned when a unique key already exists.
	ErrDuplicateKey = errors.New("duplicate key")
)

// NetworkTx is the view of the sponsor forest inside one attach transaction.
// Every member read through LockMember joins the transaction's conflict set, so
// two attaches that walk a shared chain cannot both commit.
type NetworkTx interface {
	LockMember(ctx context.Context, id string) (*models.Member, error)
	SetSponsor(ctx context.Context, memberID, sponsorID string, at time.Time) error
}

// NetworkRepository persists members and their sponsor pointers.
type NetworkRepository interface {
	CreateMember(ctx context.Context, m *models.Member) error
	GetMember(ctx context.Context, id string) (*models.Member, error)
	GetMemberByReferralCode(ctx context.Context, code string) (*models.Member, error)
	GetMembers(ctx context.Context, ids []string) ([]models.Member, error)
	// ChildrenOf returns the direct referrals of every id in parentIDs.
	ChildrenOf(ctx context.Context, parentIDs []string) ([]models.Member, error)
	Roots(ctx context.Context) ([]models.Member, error)
	SetActive(ctx context.Context, id string, active bool, at time.Time) error
	CountMembers(ctx context.Context, window models.DateRange) (models.MemberCounts, error)
	WithAttachTx(ctx context.Context, fn func(ctx context.Context, tx NetworkTx) error) error
}

// LedgerRepository is the append-only commission ledger plus the per-event records.
type LedgerRepository interface {
	GetEvent(ctx context.Context, eventID string) (*models.CommissionRecord, error)
	EntriesForEvent(ctx context.Context, eventID string) ([]models.LedgerEntry, error)
	// CommitDistribution stores rec as DONE together with entries, all or nothing.
	// It returns ErrDuplicateKey when the event is already DONE.
	CommitDistribution(ctx context.Context, rec models.CommissionRecord, entries []models.LedgerEntry) error
	// MarkFailed records a failed attempt unless the event is already DONE.
	MarkFailed(ctx context.Context, rec models.CommissionRecord) error
	// CommitReversal flags the event reversed and appends the offsetting entries.
	// It returns ErrDuplicateKey when the event was already reversed.
	CommitReversal(ctx context.Context, eventID, reason string, entries []models.LedgerEntry) error
	Balance(ctx context.Context, memberID string) (decimal.Decimal, error)
	Balances(ctx context.Context, memberIDs []string) (map[string]decimal.Decimal, error)
	EntriesForMember(ctx context.Context, memberID string, limit int) ([]models.LedgerEntry, error)
	Totals(ctx context.Context, window models.DateRange) (models.CommissionTotals, error)
	TopEarners(ctx context.Context, window models.DateRange, limit int) ([]models.Earner, error)
}

// RateConfigRepository stores rate table versions; at most one is active.
type RateConfigRepository interface {
	// Insert assigns the next version number and stores cfg inactive.
	Insert(ctx context.Context, cfg models.RateConfig) (models.RateConfig, error)
	Get(ctx context.Context, version int64) (models.RateConfig, error)
	Active(ctx context.Context) (models.RateConfig, error)
	Activate(ctx context.Context, version int64, at time.Time) (models.RateConfig, error)
	List(ctx context.Context) ([]models.RateConfig, error)
}

// Store bundles the repositories of one storage driver.
type Store struct {
	Network NetworkRepository
	Ledger  LedgerRepository
	Rates   RateConfigRepository
	Close   func(ctx context.Context) error
}
