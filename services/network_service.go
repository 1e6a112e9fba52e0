package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/HSouheill/barrim_referral/metrics"
	"github.com/HSouheill/barrim_referral/models"
	"github.com/HSouheill/barrim_referral/repositories"
	"github.com/HSouheill/barrim_referral/utils"
)

const (
	// MaxCycleCheckDepth bounds the ancestor walk done before every attach.
	MaxCycleCheckDepth = 32
	// DefaultDescendantDepth bounds descendant expansion for analytics.
	DefaultDescendantDepth = 10

	referralCodeAttempts = 5
)

// NetworkService owns the sponsor forest: attach with cycle checks and the
// traversal primitives the calculator and the analytics build on.
type NetworkService struct {
	repo     repositories.NetworkRepository
	log      *zap.Logger
	maxDepth int
	now      func() time.Time
}

func NewNetworkService(repo repositories.NetworkRepository, log *zap.Logger, maxDescendantDepth int) *NetworkService {
	if maxDescendantDepth <= 0 {
		maxDescendantDepth = DefaultDescendantDepth
	}
	return &NetworkService{
		repo:     repo,
		log:      log.Named("network"),
		maxDepth: maxDescendantDepth,
		now:      time.Now,
	}
}

// MaxDepth is the descendant depth cap used when callers pass none.
func (s *NetworkService) MaxDepth() int { return s.maxDepth }

// Register creates a member and, when sponsorCode is set, places it under the
// member owning that referral code.
func (s *NetworkService) Register(ctx context.Context, displayName, sponsorCode string) (*models.Member, error) {
	var sponsorID string
	if code := strings.TrimSpace(sponsorCode); code != "" {
		sponsor, err := s.repo.GetMemberByReferralCode(ctx, code)
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrUnknownReferralCode
		}
		if err != nil {
			return nil, errors.Wrap(err, "resolve referral code")
		}
		sponsorID = sponsor.ID
	}

	now := s.now().UTC()
	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		code, err := utils.GenerateReferralCode(utils.MemberType)
		if err != nil {
			return nil, errors.Wrap(err, "generate referral code")
		}
		// A fresh member has no descendants, so placing it under an existing
		// sponsor can never close a cycle.
		m := &models.Member{
			ID:           uuid.NewString(),
			SponsorID:    sponsorID,
			DisplayName:  strings.TrimSpace(displayName),
			ReferralCode: code,
			IsActive:     true,
			JoinedAt:     now,
			UpdatedAt:    now,
		}
		err = s.repo.CreateMember(ctx, m)
		if errors.Is(err, repositories.ErrDuplicateKey) {
			s.log.Warn("referral code collision, retrying", zap.String("code", code))
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "create member")
		}
		s.log.Info("member registered",
			zap.String("member", m.ID),
			zap.String("sponsor", sponsorID),
			zap.String("referralCode", code))
		return m, nil
	}
	return nil, errors.New("could not allocate a unique referral code")
}

// Attach sets memberID's sponsor. It fails with a *CycleError when sponsorID
// is empty, equal to the member, or one of its descendants, and with
// ErrAlreadyAttached when the member has a sponsor and reparenting was not
// allowed. The walk and the write happen in one repository transaction.
func (s *NetworkService) Attach(ctx context.Context, memberID, sponsorID string, allowReparent bool) error {
	err := s.attach(ctx, memberID, sponsorID, allowReparent)
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrCycle):
		outcome = "cycle"
	case errors.Is(err, ErrAlreadyAttached):
		outcome = "already_attached"
	default:
		outcome = "error"
	}
	metrics.ObserveAttach(outcome)
	if err != nil {
		s.log.Info("attach rejected",
			zap.String("member", memberID),
			zap.String("sponsor", sponsorID),
			zap.Error(err))
		return err
	}
	s.log.Info("sponsor attached",
		zap.String("member", memberID),
		zap.String("sponsor", sponsorID),
		zap.Bool("reparent", allowReparent))
	return nil
}

func (s *NetworkService) attach(ctx context.Context, memberID, sponsorID string, allowReparent bool) error {
	if sponsorID == "" {
		return &CycleError{MemberID: memberID, SponsorID: sponsorID, Reason: "sponsor is unset"}
	}
	if sponsorID == memberID {
		return &CycleError{MemberID: memberID, SponsorID: sponsorID, Reason: "member cannot sponsor itself"}
	}

	return s.repo.WithAttachTx(ctx, func(ctx context.Context, tx repositories.NetworkTx) error {
		member, err := tx.LockMember(ctx, memberID)
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrMemberNotFound
		}
		if err != nil {
			return errors.Wrap(err, "load member")
		}
		if member.SponsorID != "" && !allowReparent {
			return ErrAlreadyAttached
		}

		cur := sponsorID
		for hops := 0; cur != ""; hops++ {
			if hops >= MaxCycleCheckDepth {
				return &CycleError{MemberID: memberID, SponsorID: sponsorID, Reason: "sponsor chain exceeds the maximum depth"}
			}
			if cur == memberID {
				return &CycleError{MemberID: memberID, SponsorID: sponsorID, Reason: "sponsor is a descendant of the member"}
			}
			anc, err := tx.LockMember(ctx, cur)
			if errors.Is(err, repositories.ErrNotFound) {
				if hops == 0 {
					return errors.Wrap(ErrMemberNotFound, "sponsor")
				}
				return &CycleError{MemberID: memberID, SponsorID: sponsorID, Reason: "sponsor chain references a missing member"}
			}
			if err != nil {
				return errors.Wrap(err, "walk sponsor chain")
			}
			cur = anc.SponsorID
		}

		return errors.Wrap(tx.SetSponsor(ctx, memberID, sponsorID, s.now().UTC()), "set sponsor")
	})
}

// Member loads one member.
func (s *NetworkService) Member(ctx context.Context, id string) (*models.Member, error) {
	m, err := s.repo.GetMember(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrMemberNotFound
	}
	return m, errors.Wrap(err, "get member")
}

// MemberByReferralCode resolves a referral code to its owner.
func (s *NetworkService) MemberByReferralCode(ctx context.Context, code string) (*models.Member, error) {
	m, err := s.repo.GetMemberByReferralCode(ctx, code)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrUnknownReferralCode
	}
	return m, errors.Wrap(err, "get member by referral code")
}

// SetActive flips a member's active flag.
func (s *NetworkService) SetActive(ctx context.Context, id string, active bool) (*models.Member, error) {
	err := s.repo.SetActive(ctx, id, active, s.now().UTC())
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "set active")
	}
	return s.Member(ctx, id)
}

// Members loads several members at once; unknown ids are left out.
func (s *NetworkService) Members(ctx context.Context, ids []string) ([]models.Member, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	list, err := s.repo.GetMembers(ctx, ids)
	return list, errors.Wrap(err, "get members")
}

// Children returns the direct referrals of every id in parentIDs.
func (s *NetworkService) Children(ctx context.Context, parentIDs []string) ([]models.Member, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	kids, err := s.repo.ChildrenOf(ctx, parentIDs)
	return kids, errors.Wrap(err, "list children")
}

// Roots lists every member without a sponsor.
func (s *NetworkService) Roots(ctx context.Context) ([]models.Member, error) {
	roots, err := s.repo.Roots(ctx)
	return roots, errors.Wrap(err, "list roots")
}

// CountMembers returns the member counters of the overview.
func (s *NetworkService) CountMembers(ctx context.Context, window models.DateRange) (models.MemberCounts, error) {
	c, err := s.repo.CountMembers(ctx, window)
	return c, errors.Wrap(err, "count members")
}

// AncestorsOf returns a lazy iterator over memberID's sponsors, nearest first,
// stopping after maxLevels hops or at a root. The iterator can be restarted.
func (s *NetworkService) AncestorsOf(memberID string, maxLevels int) *AncestorIterator {
	return &AncestorIterator{repo: s.repo, start: memberID, max: maxLevels}
}

// AncestorIterator walks sponsor pointers upward.
type AncestorIterator struct {
	repo  repositories.NetworkRepository
	start string
	max   int

	started bool
	next    string
	level   int
	current models.Member
	path    []string
	err     error
}

// Next advances to the next ancestor. It returns false at the end of the
// chain or on error; check Err afterwards.
func (it *AncestorIterator) Next(ctx context.Context) bool {
	if it.err != nil || it.level >= it.max {
		return false
	}
	if !it.started {
		it.started = true
		owner, err := it.repo.GetMember(ctx, it.start)
		if errors.Is(err, repositories.ErrNotFound) {
			it.err = ErrMemberNotFound
			return false
		}
		if err != nil {
			it.err = errors.Wrap(err, "load member")
			return false
		}
		it.next = owner.SponsorID
		it.path = []string{it.start}
	}
	if it.next == "" {
		return false
	}
	for _, seen := range it.path {
		if seen == it.next {
			it.err = &AncestorResolutionError{MemberID: it.start, Path: append(it.path, it.next), Reason: "cycle detected"}
			return false
		}
	}
	anc, err := it.repo.GetMember(ctx, it.next)
	if errors.Is(err, repositories.ErrNotFound) {
		it.err = &AncestorResolutionError{MemberID: it.start, Path: append(it.path, it.next), Reason: "missing sponsor"}
		return false
	}
	if err != nil {
		it.err = errors.Wrap(err, "load ancestor")
		return false
	}
	it.level++
	it.current = *anc
	it.path = append(it.path, anc.ID)
	it.next = anc.SponsorID
	return true
}

// Member is the ancestor the iterator stands on.
func (it *AncestorIterator) Member() models.Member { return it.current }

// Level is the 1-indexed distance of the current ancestor.
func (it *AncestorIterator) Level() int { return it.level }

func (it *AncestorIterator) Err() error { return it.err }

// Reset rewinds the iterator to the event owner.
func (it *AncestorIterator) Reset() {
	*it = AncestorIterator{repo: it.repo, start: it.start, max: it.max}
}

// Collect drains the iterator.
func (it *AncestorIterator) Collect(ctx context.Context) ([]models.Member, error) {
	var out []models.Member
	for it.Next(ctx) {
		out = append(out, it.Member())
	}
	return out, it.Err()
}

// DescendantSet is the breadth-first expansion below a member.
// Levels[0] holds the direct referrals.
type DescendantSet struct {
	RootID    string
	Levels    [][]models.Member
	Truncated bool
}

// Count is the number of descendants found.
func (d *DescendantSet) Count() int {
	n := 0
	for _, l := range d.Levels {
		n += len(l)
	}
	return n
}

// Depth is the longest path from the root to a found leaf.
func (d *DescendantSet) Depth() int { return len(d.Levels) }

// IDs lists every descendant id, level by level.
func (d *DescendantSet) IDs() []string {
	ids := make([]string, 0, d.Count())
	for _, l := range d.Levels {
		for _, m := range l {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// DescendantsOf expands the subtree of memberID breadth first up to maxDepth
// levels (the service default when maxDepth <= 0). Hitting the cap, or
// meeting a node twice in a corrupted store, sets Truncated instead of failing.
func (s *NetworkService) DescendantsOf(ctx context.Context, memberID string, maxDepth int) (*DescendantSet, error) {
	if maxDepth <= 0 {
		maxDepth = s.maxDepth
	}
	if _, err := s.Member(ctx, memberID); err != nil {
		return nil, err
	}

	set := &DescendantSet{RootID: memberID}
	visited := map[string]struct{}{memberID: {}}
	frontier := []string{memberID}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		kids, err := s.repo.ChildrenOf(ctx, frontier)
		if err != nil {
			return nil, errors.Wrap(err, "expand children")
		}
		frontier = frontier[:0:0]
		var level []models.Member
		for _, k := range kids {
			if _, dup := visited[k.ID]; dup {
				set.Truncated = true
				continue
			}
			visited[k.ID] = struct{}{}
			level = append(level, k)
			frontier = append(frontier, k.ID)
		}
		if len(level) > 0 {
			set.Levels = append(set.Levels, level)
		}
	}
	if len(frontier) > 0 && len(set.Levels) == maxDepth {
		more, err := s.repo.ChildrenOf(ctx, frontier)
		if err != nil {
			return nil, errors.Wrap(err, "check depth limit")
		}
		if len(more) > 0 {
			set.Truncated = true
		}
	}
	if set.Truncated {
		metrics.ObserveTruncation()
		s.log.Debug("descendant expansion truncated", zap.String("member", memberID), zap.Int("maxDepth", maxDepth))
	}
	return set, nil
}

// DepthOf is the longest path from memberID down to a leaf of its subtree.
// The flag reports whether the depth cap cut the walk short.
func (s *NetworkService) DepthOf(ctx context.Context, memberID string) (int, bool, error) {
	set, err := s.DescendantsOf(ctx, memberID, s.maxDepth)
	if err != nil {
		return 0, false, err
	}
	return set.Depth(), set.Truncated, nil
}
