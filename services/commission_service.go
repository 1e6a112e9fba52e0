package services

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/HSouheill/barrim_referral/metrics"
	"github.com/HSouheill/barrim_referral/models"
	"github.com/HSouheill/barrim_referral/repositories"
	"github.com/HSouheill/barrim_referral/utils"
)

// CommissionService turns qualifying events into ledger entries. A given event
// id is credited at most once no matter how often it is submitted.
type CommissionService struct {
	network  *NetworkService
	rates    *RateConfigService
	ledger   repositories.LedgerRepository
	currency utils.Currency
	log      *zap.Logger
	now      func() time.Time
}

func NewCommissionService(network *NetworkService, rates *RateConfigService, ledger repositories.LedgerRepository, currency utils.Currency, log *zap.Logger) *CommissionService {
	return &CommissionService{
		network:  network,
		rates:    rates,
		ledger:   ledger,
		currency: currency,
		log:      log.Named("commission"),
		now:      time.Now,
	}
}

// Currency is the unit ledger amounts are kept in.
func (s *CommissionService) Currency() utils.Currency { return s.currency }

// Submit distributes ev with the active rate configuration.
func (s *CommissionService) Submit(ctx context.Context, ev models.CommissionEvent) (*models.DistributionResult, error) {
	if err := s.validateEvent(ev); err != nil {
		return nil, err
	}
	// A retry of a finished event must succeed even if the rates were removed since.
	if res, err := s.prior(ctx, ev); res != nil || err != nil {
		return res, err
	}
	cfg, err := s.rates.Active(ctx)
	if err != nil {
		return nil, err
	}
	return s.Distribute(ctx, ev, cfg)
}

// MaxAmountDigits is the precision every ledger backend stores exactly.
const MaxAmountDigits = 34

func significantDigits(d decimal.Decimal) int {
	return len(strings.TrimRight(new(big.Int).Abs(d.Coefficient()).String(), "0"))
}

func (s *CommissionService) validateEvent(ev models.CommissionEvent) error {
	verr := newValidationError()
	if strings.TrimSpace(ev.ID) == "" {
		verr.add("eventId", "is required")
	}
	if !ev.Kind.Valid() {
		verr.add("kind", "must be one of: SALE TASK REFERRAL_BONUS")
	}
	if strings.TrimSpace(ev.MemberID) == "" {
		verr.add("memberId", "is required")
	}
	if !ev.BaseAmount.IsPositive() {
		verr.add("baseAmount", "must be greater than 0")
	} else if significantDigits(ev.BaseAmount) > MaxAmountDigits {
		verr.add("baseAmount", "must have at most 34 significant digits")
	}
	if verr.empty() {
		return nil
	}
	return verr
}

// prior returns the stored result of an already distributed event, or nil.
func (s *CommissionService) prior(ctx context.Context, ev models.CommissionEvent) (*models.DistributionResult, error) {
	rec, err := s.ledger.GetEvent(ctx, ev.ID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "idempotency check")
	}
	if rec.Status != models.StatusDone {
		return nil, nil
	}
	if !rec.SameAs(ev) {
		return nil, ErrEventConflict
	}
	entries, err := s.ledger.EntriesForEvent(ctx, ev.ID)
	if err != nil {
		return nil, errors.Wrap(err, "load prior entries")
	}
	metrics.ObserveEvent(string(ev.Kind), "duplicate", 0)
	return &models.DistributionResult{Record: *rec, Entries: entries, Duplicate: true}, nil
}

// Distribute credits ev's ancestors using the snapshot cfg. The caller owns
// the snapshot; a concurrent activation never changes rates mid-distribution.
func (s *CommissionService) Distribute(ctx context.Context, ev models.CommissionEvent, cfg models.RateConfig) (*models.DistributionResult, error) {
	start := s.now()
	if err := s.validateEvent(ev); err != nil {
		return nil, err
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = start.UTC()
	}

	rec := models.CommissionRecord{
		CommissionEvent: ev,
		Status:          models.StatusReceived,
		RateVersion:     cfg.Version,
		TotalCredited:   decimal.Zero,
		CreatedAt:       start.UTC(),
	}
	log := s.log.With(zap.String("event", ev.ID), zap.String("kind", string(ev.Kind)), zap.String("member", ev.MemberID))

	res, err := s.prior(ctx, ev)
	if res != nil || err != nil {
		if res != nil {
			log.Info("event already distributed")
		}
		return res, err
	}

	if len(cfg.LevelRates) == 0 || cfg.MaxLevels < 1 {
		return nil, ErrRateConfigMissing
	}

	entries, err := s.computeEntries(ctx, &rec, cfg, log)
	if err != nil {
		return nil, s.fail(ctx, rec, err, log)
	}

	processed := s.now().UTC()
	rec.Status = models.StatusDone
	rec.ProcessedAt = &processed
	for _, e := range entries {
		rec.TotalCredited = rec.TotalCredited.Add(e.Amount)
	}

	err = s.ledger.CommitDistribution(ctx, rec, entries)
	if errors.Is(err, repositories.ErrDuplicateKey) {
		// Lost a race against a concurrent submission of the same event.
		res, perr := s.prior(ctx, ev)
		if perr != nil {
			return nil, perr
		}
		if res == nil {
			return nil, s.fail(ctx, rec, errors.Wrap(err, "commit distribution"), log)
		}
		return res, nil
	}
	if err != nil {
		return nil, s.fail(ctx, rec, errors.Wrap(err, "commit distribution"), log)
	}

	for _, e := range entries {
		f, _ := e.Amount.Float64()
		metrics.ObserveCredit(e.Level, f)
	}
	metrics.ObserveEvent(string(ev.Kind), "done", s.now().Sub(start))
	log.Info("commission distributed",
		zap.Int64("rateVersion", cfg.Version),
		zap.Int("entries", len(entries)),
		zap.String("total", rec.TotalCredited.String()))

	return &models.DistributionResult{Record: rec, Entries: entries}, nil
}

// computeEntries walks the ancestor chain and prices every level. rec.Status
// follows the walk so a failure records where it stopped.
func (s *CommissionService) computeEntries(ctx context.Context, rec *models.CommissionRecord, cfg models.RateConfig, log *zap.Logger) ([]models.LedgerEntry, error) {
	ev := rec.CommissionEvent
	now := s.now().UTC()
	newEntry := func(beneficiary string, level int, rate decimal.Decimal) (models.LedgerEntry, bool) {
		amount := s.currency.RoundMinor(ev.BaseAmount.Mul(rate))
		if amount.IsZero() || amount.LessThan(cfg.MinimumCreditUnit) {
			return models.LedgerEntry{}, false
		}
		return models.LedgerEntry{
			ID:            uuid.NewString(),
			EventID:       ev.ID,
			BeneficiaryID: beneficiary,
			Level:         level,
			Amount:        amount,
			RateApplied:   rate,
			Kind:          models.EntryCredit,
			CreatedAt:     now,
		}, true
	}

	rec.Status = models.StatusResolvingAncestors
	ancestors, err := s.network.AncestorsOf(ev.MemberID, cfg.MaxLevels).Collect(ctx)
	if err != nil {
		return nil, err
	}

	rec.Status = models.StatusRatesLookedUp
	// Only ancestors are paid; the event owner never receives an entry.
	var entries []models.LedgerEntry
	for i, anc := range ancestors {
		level := i + 1
		e, ok := newEntry(anc.ID, level, cfg.LevelRate(level))
		if !ok {
			// The level is consumed even when nothing is paid.
			metrics.ObserveSkip()
			log.Debug("level below minimum credit unit", zap.Int("level", level), zap.String("beneficiary", anc.ID))
			continue
		}
		entries = append(entries, e)
	}
	if len(ancestors) < cfg.MaxLevels {
		log.Debug("ancestor chain ends before level cap", zap.Int("ancestors", len(ancestors)), zap.Int("maxLevels", cfg.MaxLevels))
	}

	rec.Status = models.StatusEntriesWritten
	return entries, nil
}

// fail records the failed attempt and returns err. The event stays retryable.
func (s *CommissionService) fail(ctx context.Context, rec models.CommissionRecord, cause error, log *zap.Logger) error {
	stage := rec.Status
	rec.Status = models.StatusFailed
	rec.Error = string(stage) + ": " + cause.Error()
	rec.TotalCredited = decimal.Zero
	if err := s.ledger.MarkFailed(ctx, rec); err != nil {
		log.Error("could not record failed event", zap.Error(err))
	}
	metrics.ObserveEvent(string(rec.Kind), "failed", s.now().Sub(rec.CreatedAt))
	if errors.Is(cause, ErrAncestorResolution) {
		log.Error("sponsor chain corrupted, event not paid", zap.String("stage", string(stage)), zap.Error(cause))
	} else {
		log.Warn("commission distribution failed", zap.String("stage", string(stage)), zap.Error(cause))
	}
	return cause
}

// Reverse appends offsetting entries for every credit of a distributed event.
// Reversing twice returns the first reversal.
func (s *CommissionService) Reverse(ctx context.Context, eventID, reason string) (*models.DistributionResult, error) {
	rec, err := s.ledger.GetEvent(ctx, eventID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load event")
	}
	if rec.Status != models.StatusDone {
		return nil, ErrEventNotFound
	}

	all, err := s.ledger.EntriesForEvent(ctx, eventID)
	if err != nil {
		return nil, errors.Wrap(err, "load entries")
	}
	if rec.Reversed {
		return &models.DistributionResult{Record: *rec, Entries: reversalsOf(all), Duplicate: true}, nil
	}

	now := s.now().UTC()
	var reversals []models.LedgerEntry
	for _, e := range all {
		if e.Kind != models.EntryCredit {
			continue
		}
		reversals = append(reversals, models.LedgerEntry{
			ID:            uuid.NewString(),
			EventID:       e.EventID,
			BeneficiaryID: e.BeneficiaryID,
			Level:         e.Level,
			Amount:        e.Amount.Neg(),
			RateApplied:   e.RateApplied,
			Kind:          models.EntryReversal,
			CreatedAt:     now,
		})
	}

	err = s.ledger.CommitReversal(ctx, eventID, reason, reversals)
	if errors.Is(err, repositories.ErrDuplicateKey) {
		return s.Reverse(ctx, eventID, reason)
	}
	if err != nil {
		return nil, errors.Wrap(err, "commit reversal")
	}

	rec.Reversed = true
	rec.ReverseReason = reason
	s.log.Info("commission reversed", zap.String("event", eventID), zap.Int("entries", len(reversals)), zap.String("reason", reason))
	return &models.DistributionResult{Record: *rec, Entries: reversals}, nil
}

func reversalsOf(entries []models.LedgerEntry) []models.LedgerEntry {
	var out []models.LedgerEntry
	for _, e := range entries {
		if e.Kind == models.EntryReversal {
			out = append(out, e)
		}
	}
	return out
}

// Event returns the stored record and entries of an event.
func (s *CommissionService) Event(ctx context.Context, eventID string) (*models.DistributionResult, error) {
	rec, err := s.ledger.GetEvent(ctx, eventID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load event")
	}
	entries, err := s.ledger.EntriesForEvent(ctx, eventID)
	if err != nil {
		return nil, errors.Wrap(err, "load entries")
	}
	return &models.DistributionResult{Record: *rec, Entries: entries}, nil
}

// Balance folds a member's ledger entries.
func (s *CommissionService) Balance(ctx context.Context, memberID string) (*models.MemberBalance, error) {
	if _, err := s.network.Member(ctx, memberID); err != nil {
		return nil, err
	}
	bal, err := s.ledger.Balance(ctx, memberID)
	if err != nil {
		return nil, errors.Wrap(err, "fold balance")
	}
	return &models.MemberBalance{MemberID: memberID, Balance: bal, Currency: s.currency.Code}, nil
}

// History returns a member's most recent ledger entries, newest first.
func (s *CommissionService) History(ctx context.Context, memberID string, limit int) ([]models.LedgerEntry, error) {
	if _, err := s.network.Member(ctx, memberID); err != nil {
		return nil, err
	}
	entries, err := s.ledger.EntriesForMember(ctx, memberID, limit)
	return entries, errors.Wrap(err, "load history")
}
