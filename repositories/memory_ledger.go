package repositories

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/HSouheill/barrim_referral/models"
)

type entryKey struct {
	eventID       string
	beneficiaryID string
	level         int
	kind          models.EntryKind
}

// MemoryLedgerRepository is an in-process ledger. One mutex covers events and
// entries, so a commit is atomic with respect to the idempotency check.
type MemoryLedgerRepository struct {
	mu      sync.RWMutex
	events  map[string]models.CommissionRecord
	entries []models.LedgerEntry
	keys    map[entryKey]struct{}
}

func NewMemoryLedgerRepository() *MemoryLedgerRepository {
	return &MemoryLedgerRepository{
		events: make(map[string]models.CommissionRecord),
		keys:   make(map[entryKey]struct{}),
	}
}

func (r *MemoryLedgerRepository) GetEvent(_ context.Context, eventID string) (*models.CommissionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.events[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (r *MemoryLedgerRepository) EntriesForEvent(_ context.Context, eventID string) ([]models.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.LedgerEntry
	for _, e := range r.entries {
		if e.EventID == eventID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MemoryLedgerRepository) CommitDistribution(_ context.Context, rec models.CommissionRecord, entries []models.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.events[rec.ID]; ok && prev.Status == models.StatusDone {
		return ErrDuplicateKey
	}
	if err := r.checkKeys(entries); err != nil {
		return err
	}
	r.appendEntries(entries)
	r.events[rec.ID] = rec
	return nil
}

func (r *MemoryLedgerRepository) MarkFailed(_ context.Context, rec models.CommissionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.events[rec.ID]; ok && prev.Status == models.StatusDone {
		return nil
	}
	r.events[rec.ID] = rec
	return nil
}

func (r *MemoryLedgerRepository) CommitReversal(_ context.Context, eventID, reason string, entries []models.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.events[eventID]
	if !ok || rec.Status != models.StatusDone {
		return ErrNotFound
	}
	if rec.Reversed {
		return ErrDuplicateKey
	}
	if err := r.checkKeys(entries); err != nil {
		return err
	}
	r.appendEntries(entries)
	rec.Reversed = true
	rec.ReverseReason = reason
	r.events[eventID] = rec
	return nil
}

func (r *MemoryLedgerRepository) checkKeys(entries []models.LedgerEntry) error {
	seen := make(map[entryKey]struct{}, len(entries))
	for _, e := range entries {
		k := entryKey{e.EventID, e.BeneficiaryID, e.Level, e.Kind}
		if _, ok := r.keys[k]; ok {
			return ErrDuplicateKey
		}
		if _, ok := seen[k]; ok {
			return ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}
	return nil
}

func (r *MemoryLedgerRepository) appendEntries(entries []models.LedgerEntry) {
	for _, e := range entries {
		r.keys[entryKey{e.EventID, e.BeneficiaryID, e.Level, e.Kind}] = struct{}{}
		r.entries = append(r.entries, e)
	}
}

func (r *MemoryLedgerRepository) Balance(_ context.Context, memberID string) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sum := decimal.Zero
	for _, e := range r.entries {
		if e.BeneficiaryID == memberID {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

func (r *MemoryLedgerRepository) Balances(_ context.Context, memberIDs []string) (map[string]decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := make(map[string]struct{}, len(memberIDs))
	for _, id := range memberIDs {
		want[id] = struct{}{}
	}
	out := make(map[string]decimal.Decimal, len(memberIDs))
	for _, e := range r.entries {
		if _, ok := want[e.BeneficiaryID]; ok {
			out[e.BeneficiaryID] = out[e.BeneficiaryID].Add(e.Amount)
		}
	}
	return out, nil
}

func (r *MemoryLedgerRepository) EntriesForMember(_ context.Context, memberID string, limit int) ([]models.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.LedgerEntry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].BeneficiaryID != memberID {
			continue
		}
		out = append(out, r.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryLedgerRepository) Totals(_ context.Context, window models.DateRange) (models.CommissionTotals, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	totals := models.CommissionTotals{Total: decimal.Zero}
	byLevel := make(map[int]*models.LevelTotal)
	for _, e := range r.entries {
		if !window.Contains(e.CreatedAt) {
			continue
		}
		lt, ok := byLevel[e.Level]
		if !ok {
			lt = &models.LevelTotal{Level: e.Level, Amount: decimal.Zero}
			byLevel[e.Level] = lt
		}
		lt.Amount = lt.Amount.Add(e.Amount)
		lt.Count++
		totals.Total = totals.Total.Add(e.Amount)
	}
	for _, lt := range byLevel {
		totals.ByLevel = append(totals.ByLevel, *lt)
	}
	sort.Slice(totals.ByLevel, func(i, j int) bool { return totals.ByLevel[i].Level < totals.ByLevel[j].Level })

	for _, rec := range r.events {
		if rec.Status == models.StatusDone && rec.ProcessedAt != nil && window.Contains(*rec.ProcessedAt) {
			totals.EventsProcessed++
		}
	}
	return totals, nil
}

func (r *MemoryLedgerRepository) TopEarners(_ context.Context, window models.DateRange, limit int) ([]models.Earner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sums := make(map[string]decimal.Decimal)
	for _, e := range r.entries {
		if window.Contains(e.CreatedAt) {
			sums[e.BeneficiaryID] = sums[e.BeneficiaryID].Add(e.Amount)
		}
	}
	out := make([]models.Earner, 0, len(sums))
	for id, amt := range sums {
		out = append(out, models.Earner{MemberID: id, Amount: amt})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		return out[i].MemberID < out[j].MemberID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
