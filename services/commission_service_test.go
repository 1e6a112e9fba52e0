package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HSouheill/barrim_referral/models"
)

func TestSubmitPaysFiveLevels(t *testing.T) {
	f := newFixture(t)
	cfg := f.withDefaultRates(t)
	ctx := context.Background()
	c := f.chain(t, 7) // buyer c[6] has six ancestors

	res, err := f.commission.Submit(ctx, sale("ev-1", c[6].ID, "1000"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, models.StatusDone, res.Record.Status)
	assert.Equal(t, cfg.Version, res.Record.RateVersion)
	require.NotNil(t, res.Record.ProcessedAt)

	assert.Equal(t, map[string]string{
		c[5].ID: "200.00",
		c[4].ID: "150.00",
		c[3].ID: "100.00",
		c[2].ID: "80.00",
		c[1].ID: "70.00",
	}, amountsByBeneficiary(res.Entries))
	assert.True(t, dec("600").Equal(res.Record.TotalCredited))

	for i, e := range res.Entries {
		assert.Equal(t, i+1, e.Level)
		assert.Equal(t, models.EntryCredit, e.Kind)
		assert.Equal(t, "ev-1", e.EventID)
	}

	// The root is beyond the fifth level.
	bal, err := f.commission.Balance(ctx, c[0].ID)
	require.NoError(t, err)
	assert.True(t, bal.Balance.IsZero())
	assert.Equal(t, "PKR", bal.Currency)
}

func TestSubmitShortChain(t *testing.T) {
	f := newFixture(t)
	f.withDefaultRates(t)
	ctx := context.Background()
	c := f.chain(t, 3)

	res, err := f.commission.Submit(ctx, sale("ev-short", c[2].ID, "100"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		c[1].ID: "20.00",
		c[0].ID: "15.00",
	}, amountsByBeneficiary(res.Entries))
}

func TestSubmitRootBuyer(t *testing.T) {
	f := newFixture(t)
	f.withDefaultRates(t)
	root := f.register(t, "root", nil)

	res, err := f.commission.Submit(context.Background(), sale("ev-root", root.ID, "100"))
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
	assert.Equal(t, models.StatusDone, res.Record.Status)
	assert.True(t, res.Record.TotalCredited.IsZero())
}

func TestSubmitIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.withDefaultRates(t)
	ctx := context.Background()
	c := f.chain(t, 3)
	ev := sale("ev-dup", c[2].ID, "250")

	first, err := f.commission.Submit(ctx, ev)
	require.NoError(t, err)
	second, err := f.commission.Submit(ctx, ev)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, len(first.Entries), len(second.Entries))

	bal, err := f.commission.Balance(ctx, c[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "50.00", bal.Balance.StringFixed(2))

	_, err = f.commission.Submit(ctx, sale("ev-dup", c[2].ID, "999"))
	assert.ErrorIs(t, err, ErrEventConflict)
}

func TestSubmitConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	f.withDefaultRates(t)
	ctx := context.Background()
	c := f.chain(t, 6)
	ev := sale("ev-race", c[5].ID, "1000")

	const workers = 16
	var wg sync.WaitGroup
	results := make([]*models.DistributionResult, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.commission.Submit(ctx, ev)
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := range results {
		require.NoError(t, errs[i])
		if !results[i].Duplicate {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)

	entries, err := f.ledger.EntriesForEvent(ctx, "ev-race")
	require.NoError(t, err)
	assert.Len(t, entries, 5)

	bal, err := f.commission.Balance(ctx, c[4].ID)
	require.NoError(t, err)
	assert.Equal(t, "200.00", bal.Balance.StringFixed(2))
}

func TestSubmitConcurrentDistinctEvents(t *testing.T) {
	f := newFixture(t)
	f.withDefaultRates(t)
	ctx := context.Background()
	c := f.chain(t, 2)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.commission.Submit(ctx, sale(fmt.Sprintf("ev-%d", i), c[1].ID, "10"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	bal, err := f.commission.Balance(ctx, c[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "80.00", bal.Balance.StringFixed(2))
}

func TestDistributeRounding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.chain(t, 2)
	cfg := models.DefaultRateConfig()
	cfg.LevelRates = []decimal.Decimal{dec("0.05")}
	cfg.MaxLevels = 1

	tests := []struct {
		base string
		want string // "" means nothing is credited
	}{
		{"0.30", "0.02"}, // 0.015 rounds to even
		{"0.50", "0.02"}, // 0.025 rounds to even
		{"0.70", "0.04"}, // 0.035 rounds to even
		{"0.10", ""},     // 0.005 rounds to zero
		{"33.33", "1.67"},
	}
	for i, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			res, err := f.commission.Distribute(ctx, sale(fmt.Sprintf("round-%d", i), c[1].ID, tt.base), cfg)
			require.NoError(t, err)
			if tt.want == "" {
				assert.Empty(t, res.Entries)
				return
			}
			require.Len(t, res.Entries, 1)
			assert.Equal(t, tt.want, res.Entries[0].Amount.StringFixed(2))
		})
	}
}

func TestDistributeSkippedLevelIsConsumed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.chain(t, 3)
	cfg := models.DefaultRateConfig()
	cfg.LevelRates = []decimal.Decimal{dec("0.001"), dec("0.5")}
	cfg.MaxLevels = 2
	cfg.MinimumCreditUnit = dec("0.01")

	res, err := f.commission.Distribute(ctx, sale("skip", c[2].ID, "5"), cfg)
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, c[0].ID, res.Entries[0].BeneficiaryID)
	assert.Equal(t, 2, res.Entries[0].Level)
	assert.Equal(t, "2.50", res.Entries[0].Amount.StringFixed(2))
}

func TestDistributeUsesSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.withDefaultRates(t)
	c := f.chain(t, 2)

	next := models.DefaultRateConfig()
	next.LevelRates[0] = dec("0.50")
	_, err := f.rates.Update(ctx, next)
	require.NoError(t, err)

	res, err := f.commission.Distribute(ctx, sale("snap", c[1].ID, "100"), old)
	require.NoError(t, err)
	assert.Equal(t, old.Version, res.Record.RateVersion)
	assert.Equal(t, "20.00", res.Entries[0].Amount.StringFixed(2))

	res, err = f.commission.Submit(ctx, sale("live", c[1].ID, "100"))
	require.NoError(t, err)
	assert.Equal(t, "50.00", res.Entries[0].Amount.StringFixed(2))
}

func TestDistributeFlatRatesCreditNoOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.chain(t, 2)
	cfg := models.DefaultRateConfig()
	cfg.ProductCommissionRate = dec("0.05")
	cfg.TaskCommissionRate = dec("0.05")

	task := sale("flat-task", c[1].ID, "200")
	task.Kind = models.EventTask
	for _, ev := range []models.CommissionEvent{sale("flat", c[1].ID, "200"), task} {
		res, err := f.commission.Distribute(ctx, ev, cfg)
		require.NoError(t, err)
		require.Len(t, res.Entries, 1, ev.ID)
		assert.Equal(t, 1, res.Entries[0].Level)
		assert.Equal(t, c[0].ID, res.Entries[0].BeneficiaryID)
		assert.Equal(t, "40.00", res.Entries[0].Amount.StringFixed(2))
		assert.True(t, res.Record.TotalCredited.LessThanOrEqual(dec("200").Mul(cfg.TotalLevelRate())))
	}

	bal, err := f.commission.Balance(ctx, c[1].ID)
	require.NoError(t, err)
	assert.True(t, bal.Balance.IsZero())
}

func TestActiveFlatRateKeepsTotalWithinLevelRates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.withDefaultRates(t)
	c := f.chain(t, 7)

	next := models.DefaultRateConfig()
	next.ProductCommissionRate = dec("0.10")
	cfg, err := f.rates.Update(ctx, next)
	require.NoError(t, err)

	res, err := f.commission.Submit(ctx, sale("flat-live", c[6].ID, "1000"))
	require.NoError(t, err)
	assert.Equal(t, cfg.Version, res.Record.RateVersion)
	require.Len(t, res.Entries, 5)
	for _, e := range res.Entries {
		assert.NotEqual(t, c[6].ID, e.BeneficiaryID)
		assert.GreaterOrEqual(t, e.Level, 1)
	}
	limit := dec("1000").Mul(cfg.TotalLevelRate())
	assert.Equal(t, "600.00", res.Record.TotalCredited.StringFixed(2))
	assert.True(t, res.Record.TotalCredited.LessThanOrEqual(limit), "%s > %s", res.Record.TotalCredited, limit)
}

func TestLevelAmountsNeverIncrease(t *testing.T) {
	f := newFixture(t)
	f.withDefaultRates(t)
	ctx := context.Background()
	c := f.chain(t, 10)

	for i, base := range []string{"0.01", "0.07", "0.99", "1", "3.33", "17.77", "999.99", "123456.78"} {
		for _, buyer := range []*models.Member{c[1], c[4], c[9]} {
			res, err := f.commission.Submit(ctx, sale(fmt.Sprintf("mono-%d-%s", i, buyer.ID), buyer.ID, base))
			require.NoError(t, err)
			entries := append([]models.LedgerEntry(nil), res.Entries...)
			sort.Slice(entries, func(a, b int) bool { return entries[a].Level < entries[b].Level })
			for j := 0; j+1 < len(entries); j++ {
				assert.True(t, entries[j].Amount.GreaterThanOrEqual(entries[j+1].Amount),
					"base %s: level %d pays %s, level %d pays %s", base,
					entries[j].Level, entries[j].Amount, entries[j+1].Level, entries[j+1].Amount)
			}
		}
	}
}

func TestTotalNeverExceedsRateSum(t *testing.T) {
	f := newFixture(t)
	cfg := f.withDefaultRates(t)
	ctx := context.Background()
	c := f.chain(t, 10)

	for i, base := range []string{"0.01", "0.99", "1", "17.77", "1000", "123456.78"} {
		for _, buyer := range []*models.Member{c[1], c[4], c[9]} {
			res, err := f.commission.Submit(ctx, sale(fmt.Sprintf("sum-%d-%s", i, buyer.ID), buyer.ID, base))
			require.NoError(t, err)
			limit := dec(base).Mul(cfg.TotalLevelRate())
			// Each level may round up by at most half a minor unit.
			limit = limit.Add(decimal.NewFromFloat(0.005).Mul(decimal.NewFromInt(int64(cfg.MaxLevels))))
			assert.True(t, res.Record.TotalCredited.LessThanOrEqual(limit), "%s > %s", res.Record.TotalCredited, limit)
			assert.LessOrEqual(t, len(res.Entries), cfg.MaxLevels)
		}
	}
}

func TestSubmitCorruptedChainFails(t *testing.T) {
	f := newFixture(t)
	f.withDefaultRates(t)
	ctx := context.Background()
	c := f.chain(t, 4)
	f.network.ForceSponsor(c[0].ID, c[2].ID) // c[0] -> c[2] -> c[1] -> c[0]

	_, err := f.commission.Submit(ctx, sale("broken", c[3].ID, "100"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAncestorResolution)

	stored, err := f.commission.Event(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Record.Status)
	assert.Contains(t, stored.Record.Error, string(models.StatusResolvingAncestors))
	assert.Empty(t, stored.Entries)

	// A failed event is retried once the chain is repaired.
	f.network.ForceSponsor(c[0].ID, "")
	res, err := f.commission.Submit(ctx, sale("broken", c[3].ID, "100"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Len(t, res.Entries, 3)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	f.withDefaultRates(t)
	ctx := context.Background()
	m := f.register(t, "m", nil)

	bad := []models.CommissionEvent{
		sale("", m.ID, "10"),
		sale("zero", m.ID, "0"),
		sale("neg", m.ID, "-1"),
		sale("nomember", "", "10"),
		{ID: "kind", Kind: "REFUND", MemberID: m.ID, BaseAmount: dec("1")},
		sale("wide", m.ID, "1.23456789012345678901234567890123456"),
	}
	for _, ev := range bad {
		_, err := f.commission.Submit(ctx, ev)
		assert.ErrorIs(t, err, ErrValidation, "event %+v", ev)
	}

	_, err := f.commission.Submit(ctx, sale("ghost", "missing", "10"))
	assert.ErrorIs(t, err, ErrMemberNotFound)

	// 34 digits is the widest amount accepted; trailing zeros do not count.
	_, err = f.commission.Submit(ctx, sale("widest", m.ID, "1.234567890123456789012345678901234"))
	assert.NoError(t, err)
	_, err = f.commission.Submit(ctx, sale("round", m.ID, "1000000000000000000000000000000000000000"))
	assert.NoError(t, err)
	_, err = f.commission.Event(ctx, "wide")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestSubmitWithoutRates(t *testing.T) {
	f := newFixture(t)
	m := f.register(t, "m", nil)

	_, err := f.commission.Submit(context.Background(), sale("no-rates", m.ID, "10"))
	assert.ErrorIs(t, err, ErrRateConfigMissing)
}

func TestReverse(t *testing.T) {
	f := newFixture(t)
	f.withDefaultRates(t)
	ctx := context.Background()
	c := f.chain(t, 3)

	_, err := f.commission.Submit(ctx, sale("refund-me", c[2].ID, "100"))
	require.NoError(t, err)

	res, err := f.commission.Reverse(ctx, "refund-me", "order refunded")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.True(t, res.Record.Reversed)
	require.Len(t, res.Entries, 2)
	for _, e := range res.Entries {
		assert.Equal(t, models.EntryReversal, e.Kind)
		assert.True(t, e.Amount.IsNegative())
	}

	for _, m := range c {
		bal, err := f.commission.Balance(ctx, m.ID)
		require.NoError(t, err)
		assert.True(t, bal.Balance.IsZero(), "balance of %s", m.DisplayName)
	}

	again, err := f.commission.Reverse(ctx, "refund-me", "again")
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Len(t, again.Entries, 2)
	assert.Equal(t, "order refunded", again.Record.ReverseReason)

	_, err = f.commission.Reverse(ctx, "never-seen", "x")
	assert.ErrorIs(t, err, ErrEventNotFound)

	history, err := f.commission.History(ctx, c[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.EntryReversal, history[0].Kind)
}

func TestEventNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.commission.Event(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrEventNotFound)

	_, err = f.commission.Balance(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrMemberNotFound)
}
