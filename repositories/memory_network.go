package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/HSouheill/barrim_referral/models"
)

// MemoryNetworkRepository keeps the forest in process. Used for local runs and tests.
type MemoryNetworkRepository struct {
	mu       sync.RWMutex
	members  map[string]*models.Member
	byCode   map[string]string
	children map[string][]string
}

func NewMemoryNetworkRepository() *MemoryNetworkRepository {
	return &MemoryNetworkRepository{
		members:  make(map[string]*models.Member),
		byCode:   make(map[string]string),
		children: make(map[string][]string),
	}
}

func (r *MemoryNetworkRepository) CreateMember(_ context.Context, m *models.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[m.ID]; ok {
		return ErrDuplicateKey
	}
	if _, ok := r.byCode[m.ReferralCode]; ok {
		return ErrDuplicateKey
	}
	cp := *m
	r.members[m.ID] = &cp
	r.byCode[m.ReferralCode] = m.ID
	if m.SponsorID != "" {
		r.children[m.SponsorID] = append(r.children[m.SponsorID], m.ID)
	}
	return nil
}

func (r *MemoryNetworkRepository) GetMember(_ context.Context, id string) (*models.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.members[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *MemoryNetworkRepository) GetMemberByReferralCode(ctx context.Context, code string) (*models.Member, error) {
	r.mu.RLock()
	id, ok := r.byCode[code]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return r.GetMember(ctx, id)
}

func (r *MemoryNetworkRepository) GetMembers(_ context.Context, ids []string) ([]models.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Member, 0, len(ids))
	for _, id := range ids {
		if m, ok := r.members[id]; ok {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *MemoryNetworkRepository) ChildrenOf(_ context.Context, parentIDs []string) ([]models.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Member
	for _, pid := range parentIDs {
		for _, cid := range r.children[pid] {
			out = append(out, *r.members[cid])
		}
	}
	return out, nil
}

func (r *MemoryNetworkRepository) Roots(_ context.Context) ([]models.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Member
	for _, m := range r.members {
		if m.IsRoot() {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (r *MemoryNetworkRepository) SetActive(_ context.Context, id string, active bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[id]
	if !ok {
		return ErrNotFound
	}
	m.IsActive = active
	if active {
		m.DeactivatedAt = nil
	} else {
		t := at
		m.DeactivatedAt = &t
	}
	m.UpdatedAt = at
	return nil
}

func (r *MemoryNetworkRepository) CountMembers(_ context.Context, window models.DateRange) (models.MemberCounts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var c models.MemberCounts
	for _, m := range r.members {
		c.Total++
		if m.IsActive {
			c.Active++
		}
		if window.Contains(m.JoinedAt) {
			c.Joined++
		}
		if m.JoinedAt.Before(window.From) {
			c.Cohort++
			if m.ActiveAt(window.To) {
				c.Retained++
			}
		}
	}
	return c, nil
}

// WithAttachTx runs fn under the store's write lock, which makes the cycle
// check and the pointer write one step for every other attach.
func (r *MemoryNetworkRepository) WithAttachTx(ctx context.Context, fn func(ctx context.Context, tx NetworkTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return fn(ctx, memoryNetworkTx{r})
}

type memoryNetworkTx struct {
	r *MemoryNetworkRepository
}

func (tx memoryNetworkTx) LockMember(_ context.Context, id string) (*models.Member, error) {
	m, ok := tx.r.members[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (tx memoryNetworkTx) SetSponsor(_ context.Context, memberID, sponsorID string, at time.Time) error {
	m, ok := tx.r.members[memberID]
	if !ok {
		return ErrNotFound
	}
	if old := m.SponsorID; old != "" {
		siblings := tx.r.children[old]
		for i, id := range siblings {
			if id == memberID {
				tx.r.children[old] = append(siblings[:i:i], siblings[i+1:]...)
				break
			}
		}
	}
	m.SponsorID = sponsorID
	m.UpdatedAt = at
	tx.r.children[sponsorID] = append(tx.r.children[sponsorID], memberID)
	return nil
}

// ForceSponsor overwrites a sponsor pointer without any check. It exists so
// tests can simulate a corrupted store.
func (r *MemoryNetworkRepository) ForceSponsor(memberID, sponsorID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_ = memoryNetworkTx{r}.SetSponsor(context.Background(), memberID, sponsorID, time.Now())
}
