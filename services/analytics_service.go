package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/HSouheill/barrim_referral/metrics"
	"github.com/HSouheill/barrim_referral/models"
	"github.com/HSouheill/barrim_referral/repositories"
)

const (
	// DefaultSnapshotDepth is used when a snapshot request names no depth.
	DefaultSnapshotDepth = 3
	// MaxSnapshotDepth caps the levels returned in one snapshot.
	MaxSnapshotDepth = 10
	// DefaultWindowDays is the trailing window of the overview and its refresh job.
	DefaultWindowDays = 30

	topEarnersLimit = 10
)

// AnalyticsService derives read-only statistics from the forest and the ledger.
// Nothing here writes to either, and results may lag in-flight distributions.
type AnalyticsService struct {
	network *NetworkService
	ledger  repositories.LedgerRepository
	cache   OverviewCache
	ttl     time.Duration
	log     *zap.Logger
	now     func() time.Time
}

// NewAnalyticsService wires the aggregator. cache may be nil.
func NewAnalyticsService(network *NetworkService, ledger repositories.LedgerRepository, cache OverviewCache, ttl time.Duration, log *zap.Logger) *AnalyticsService {
	return &AnalyticsService{
		network: network,
		ledger:  ledger,
		cache:   cache,
		ttl:     ttl,
		log:     log.Named("analytics"),
		now:     time.Now,
	}
}

// DefaultWindow is the trailing DefaultWindowDays whole days ending today (UTC).
func DefaultWindow(now time.Time) models.DateRange {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return models.DateRange{
		From: midnight.AddDate(0, 0, -DefaultWindowDays),
		To:   midnight.AddDate(0, 0, 1).Add(-time.Second),
	}
}

// TeamSize is the number of members below memberID within the depth cap.
func (s *AnalyticsService) TeamSize(ctx context.Context, memberID string) (int, bool, error) {
	set, err := s.network.DescendantsOf(ctx, memberID, 0)
	if err != nil {
		return 0, false, err
	}
	return set.Count(), set.Truncated, nil
}

// TeamEarnings sums the balances of memberID and everyone in its team.
func (s *AnalyticsService) TeamEarnings(ctx context.Context, memberID string) (decimal.Decimal, bool, error) {
	set, err := s.network.DescendantsOf(ctx, memberID, 0)
	if err != nil {
		return decimal.Zero, false, err
	}
	total, err := s.sumBalances(ctx, append(set.IDs(), memberID))
	return total, set.Truncated, err
}

func (s *AnalyticsService) sumBalances(ctx context.Context, ids []string) (decimal.Decimal, error) {
	balances, err := s.ledger.Balances(ctx, ids)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "load balances")
	}
	total := decimal.Zero
	for _, b := range balances {
		total = total.Add(b)
	}
	return total, nil
}

// NetworkDepth is the deepest root-to-leaf path over the whole forest.
func (s *AnalyticsService) NetworkDepth(ctx context.Context) (int, bool, error) {
	roots, err := s.network.Roots(ctx)
	if err != nil {
		return 0, false, err
	}
	depth, truncated := 0, false
	for _, r := range roots {
		d, t, err := s.network.DepthOf(ctx, r.ID)
		if err != nil {
			return 0, false, err
		}
		if d > depth {
			depth = d
		}
		truncated = truncated || t
	}
	return depth, truncated, nil
}

// RetentionRate is the share of members who joined before window.From and are
// still active at window.To. An empty cohort yields 0.
func (s *AnalyticsService) RetentionRate(ctx context.Context, window models.DateRange) (float64, error) {
	counts, err := s.network.CountMembers(ctx, window)
	if err != nil {
		return 0, err
	}
	return ratio(counts.Retained, counts.Cohort), nil
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// MemberStats bundles the team figures of one member.
func (s *AnalyticsService) MemberStats(ctx context.Context, memberID string) (*models.TeamStats, error) {
	set, err := s.network.DescendantsOf(ctx, memberID, 0)
	if err != nil {
		return nil, err
	}
	earnings, err := s.sumBalances(ctx, append(set.IDs(), memberID))
	if err != nil {
		return nil, err
	}
	stats := &models.TeamStats{
		MemberID:          memberID,
		TeamSize:          set.Count(),
		TeamEarnings:      earnings,
		Depth:             set.Depth(),
		DepthLimitReached: set.Truncated,
	}
	if len(set.Levels) > 0 {
		stats.DirectReferrals = len(set.Levels[0])
	}
	return stats, nil
}

// Overview reports member and commission figures for window, served from the
// cache when a fresh copy exists.
func (s *AnalyticsService) Overview(ctx context.Context, window models.DateRange) (*models.AnalyticsOverview, error) {
	if window.To.Before(window.From) {
		verr := newValidationError()
		verr.add("to", "must not be before from")
		return nil, verr
	}
	if s.cache != nil {
		if ov, ok := s.cache.Get(ctx, window); ok {
			metrics.ObserveCacheLookup(true)
			return ov, nil
		}
		metrics.ObserveCacheLookup(false)
	}
	ov, err := s.computeOverview(ctx, window)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, ov, s.ttl)
	}
	return ov, nil
}

// RefreshOverview recomputes the default window and replaces the cached copy.
func (s *AnalyticsService) RefreshOverview(ctx context.Context) error {
	window := DefaultWindow(s.now())
	ov, err := s.computeOverview(ctx, window)
	if err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Set(ctx, ov, s.ttl)
	}
	s.log.Debug("overview refreshed",
		zap.Time("from", window.From),
		zap.Time("to", window.To),
		zap.Int("members", ov.TotalMembers))
	return nil
}

func (s *AnalyticsService) computeOverview(ctx context.Context, window models.DateRange) (*models.AnalyticsOverview, error) {
	counts, err := s.network.CountMembers(ctx, window)
	if err != nil {
		return nil, err
	}
	depth, truncated, err := s.NetworkDepth(ctx)
	if err != nil {
		return nil, err
	}
	totals, err := s.ledger.Totals(ctx, window)
	if err != nil {
		return nil, errors.Wrap(err, "commission totals")
	}
	top, err := s.ledger.TopEarners(ctx, window, topEarnersLimit)
	if err != nil {
		return nil, errors.Wrap(err, "top earners")
	}
	if err := s.nameEarners(ctx, top); err != nil {
		return nil, err
	}

	byLevel := totals.ByLevel
	if byLevel == nil {
		byLevel = []models.LevelTotal{}
	}
	if top == nil {
		top = []models.Earner{}
	}
	return &models.AnalyticsOverview{
		Range:             window,
		TotalMembers:      counts.Total,
		ActiveMembers:     counts.Active,
		NewMembers:        counts.Joined,
		ActivationRate:    ratio(counts.Active, counts.Total),
		RetentionRate:     ratio(counts.Retained, counts.Cohort),
		NetworkDepth:      depth,
		TotalCommission:   totals.Total,
		CommissionByLevel: byLevel,
		EventsProcessed:   totals.EventsProcessed,
		TopEarners:        top,
		DepthLimitReached: truncated,
		GeneratedAt:       s.now().UTC(),
	}, nil
}

func (s *AnalyticsService) nameEarners(ctx context.Context, top []models.Earner) error {
	ids := make([]string, len(top))
	for i, e := range top {
		ids[i] = e.MemberID
	}
	members, err := s.network.Members(ctx, ids)
	if err != nil {
		return err
	}
	names := make(map[string]string, len(members))
	for _, m := range members {
		names[m.ID] = m.DisplayName
	}
	for i := range top {
		top[i].DisplayName = names[top[i].MemberID]
	}
	return nil
}

// NetworkSnapshot returns the tree below memberID, depth levels deep. Inactive
// members and their subtrees are hidden unless includeInactive is set.
func (s *AnalyticsService) NetworkSnapshot(ctx context.Context, memberID string, depth int, includeInactive bool) (*models.NetworkSnapshot, error) {
	if depth <= 0 {
		depth = DefaultSnapshotDepth
	}
	if depth > MaxSnapshotDepth {
		depth = MaxSnapshotDepth
	}

	root, err := s.network.Member(ctx, memberID)
	if err != nil {
		return nil, err
	}
	set, err := s.network.DescendantsOf(ctx, memberID, depth)
	if err != nil {
		return nil, err
	}

	shown := func(m models.Member) bool { return includeInactive || m.IsActive }

	// Referral counts cover the children the tree would list, so hidden
	// inactive members are not counted. The bottom level needs one more lookup.
	referrals := make(map[string]int)
	for _, level := range set.Levels {
		for _, m := range level {
			if shown(m) {
				referrals[m.SponsorID]++
			}
		}
	}
	if n := len(set.Levels); n > 0 && n == depth {
		bottom := make([]string, len(set.Levels[n-1]))
		for i, m := range set.Levels[n-1] {
			bottom[i] = m.ID
		}
		below, err := s.network.Children(ctx, bottom)
		if err != nil {
			return nil, err
		}
		for _, m := range below {
			if shown(m) {
				referrals[m.SponsorID]++
			}
		}
	}

	balances, err := s.ledger.Balances(ctx, append(set.IDs(), memberID))
	if err != nil {
		return nil, errors.Wrap(err, "load balances")
	}

	summarize := func(m models.Member) *models.MemberSummary {
		earned, ok := balances[m.ID]
		if !ok {
			earned = decimal.Zero
		}
		return &models.MemberSummary{
			ID:            m.ID,
			DisplayName:   m.DisplayName,
			ReferralCode:  m.ReferralCode,
			IsActive:      m.IsActive,
			Earnings:      earned,
			ReferralCount: referrals[m.ID],
			JoinedAt:      m.JoinedAt,
		}
	}

	snap := &models.NetworkSnapshot{
		Root:              summarize(*root),
		Depth:             depth,
		IncludeInactive:   includeInactive,
		TotalMembers:      1,
		DepthLimitReached: set.Truncated,
	}
	nodes := map[string]*models.MemberSummary{root.ID: snap.Root}
	for _, level := range set.Levels {
		for _, m := range level {
			parent, ok := nodes[m.SponsorID]
			if !ok || !shown(m) {
				continue
			}
			node := summarize(m)
			parent.Children = append(parent.Children, node)
			nodes[m.ID] = node
			snap.TotalMembers++
		}
	}
	return snap, nil
}
