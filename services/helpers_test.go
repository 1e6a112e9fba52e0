package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HSouheill/barrim_referral/models"
	"github.com/HSouheill/barrim_referral/repositories"
	"github.com/HSouheill/barrim_referral/utils"
)

type fixture struct {
	network    *repositories.MemoryNetworkRepository
	ledger     *repositories.MemoryLedgerRepository
	rateRepo   *repositories.MemoryRateConfigRepository
	members    *NetworkService
	rates      *RateConfigService
	commission *CommissionService
	analytics  *AnalyticsService
}

var pkr = utils.Currency{Code: "PKR", MinorUnits: 2}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop()
	f := &fixture{
		network:  repositories.NewMemoryNetworkRepository(),
		ledger:   repositories.NewMemoryLedgerRepository(),
		rateRepo: repositories.NewMemoryRateConfigRepository(),
	}
	f.members = NewNetworkService(f.network, log, DefaultDescendantDepth)
	f.rates = NewRateConfigService(f.rateRepo, log)
	f.commission = NewCommissionService(f.members, f.rates, f.ledger, pkr, log)
	f.analytics = NewAnalyticsService(f.members, f.ledger, nil, time.Minute, log)
	return f
}

// withDefaultRates activates the 20/15/10/8/7 table.
func (f *fixture) withDefaultRates(t *testing.T) models.RateConfig {
	t.Helper()
	cfg, err := f.rates.Update(context.Background(), models.DefaultRateConfig())
	require.NoError(t, err)
	return cfg
}

func (f *fixture) register(t *testing.T, name string, sponsor *models.Member) *models.Member {
	t.Helper()
	code := ""
	if sponsor != nil {
		code = sponsor.ReferralCode
	}
	m, err := f.members.Register(context.Background(), name, code)
	require.NoError(t, err)
	return m
}

// chain registers n members, each sponsored by the previous one. chain[0] is the root.
func (f *fixture) chain(t *testing.T, n int) []*models.Member {
	t.Helper()
	out := make([]*models.Member, 0, n)
	var prev *models.Member
	for i := 0; i < n; i++ {
		m := f.register(t, "member-"+string(rune('a'+i)), prev)
		out = append(out, m)
		prev = m
	}
	return out
}

func sale(id, memberID, amount string) models.CommissionEvent {
	return models.CommissionEvent{
		ID:         id,
		Kind:       models.EventSale,
		MemberID:   memberID,
		BaseAmount: decimal.RequireFromString(amount),
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func amountsByBeneficiary(entries []models.LedgerEntry) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.BeneficiaryID] = e.Amount.StringFixed(2)
	}
	return out
}
