package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/HSouheill/barrim_referral/models"
)

// MemoryRateConfigRepository keeps rate versions in process.
type MemoryRateConfigRepository struct {
	mu       sync.RWMutex
	versions []models.RateConfig
	active   int64
}

func NewMemoryRateConfigRepository() *MemoryRateConfigRepository {
	return &MemoryRateConfigRepository{}
}

func (r *MemoryRateConfigRepository) Insert(_ context.Context, cfg models.RateConfig) (models.RateConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg = cfg.Clone()
	cfg.Version = int64(len(r.versions) + 1)
	cfg.Active = false
	cfg.ActivatedAt = nil
	r.versions = append(r.versions, cfg)
	return cfg.Clone(), nil
}

func (r *MemoryRateConfigRepository) Get(_ context.Context, version int64) (models.RateConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if version < 1 || version > int64(len(r.versions)) {
		return models.RateConfig{}, ErrNotFound
	}
	return r.versions[version-1].Clone(), nil
}

func (r *MemoryRateConfigRepository) Active(ctx context.Context) (models.RateConfig, error) {
	r.mu.RLock()
	active := r.active
	r.mu.RUnlock()
	if active == 0 {
		return models.RateConfig{}, ErrNotFound
	}
	return r.Get(ctx, active)
}

func (r *MemoryRateConfigRepository) Activate(_ context.Context, version int64, at time.Time) (models.RateConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if version < 1 || version > int64(len(r.versions)) {
		return models.RateConfig{}, ErrNotFound
	}
	if r.active != 0 {
		r.versions[r.active-1].Active = false
	}
	cfg := &r.versions[version-1]
	cfg.Active = true
	t := at
	cfg.ActivatedAt = &t
	r.active = version
	return cfg.Clone(), nil
}

func (r *MemoryRateConfigRepository) List(_ context.Context) ([]models.RateConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.RateConfig, len(r.versions))
	for i, v := range r.versions {
		out[i] = v.Clone()
	}
	return out, nil
}

// NewMemoryStore wires the in-process repositories together.
func NewMemoryStore() *Store {
	return &Store{
		Network: NewMemoryNetworkRepository(),
		Ledger:  NewMemoryLedgerRepository(),
		Rates:   NewMemoryRateConfigRepository(),
		Close:   func(context.Context) error { return nil },
	}
}
