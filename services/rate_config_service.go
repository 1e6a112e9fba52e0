package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/HSouheill/barrim_referral/metrics"
	"github.com/HSouheill/barrim_referral/models"
	"github.com/HSouheill/barrim_referral/repositories"
	"github.com/HSouheill/barrim_referral/utils"
)

const maxLevelsCap = 10

// RateConfigService validates and versions commission rate tables. Writers are
// serialized; readers always get an immutable snapshot of the active version.
type RateConfigService struct {
	repo     repositories.RateConfigRepository
	validate *validator.Validate
	log      *zap.Logger
	now      func() time.Time

	mu sync.Mutex
}

func NewRateConfigService(repo repositories.RateConfigRepository, log *zap.Logger) *RateConfigService {
	return &RateConfigService{
		repo:     repo,
		validate: utils.NewValidator(),
		log:      log.Named("rates"),
		now:      time.Now,
	}
}

// Validate checks cfg without storing it.
func (s *RateConfigService) Validate(cfg models.RateConfig) error {
	verr := newValidationError()

	if err := s.validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return errors.Wrap(err, "validate rate config")
		}
		for _, fe := range fieldErrs {
			verr.add(fe.Field(), describeTag(fe))
		}
	}

	if cfg.MaxLevels >= 1 && cfg.MaxLevels <= maxLevelsCap && len(cfg.LevelRates) != cfg.MaxLevels {
		verr.add("levelRates", fmt.Sprintf("expected %d rates, got %d", cfg.MaxLevels, len(cfg.LevelRates)))
	}

	// The chain plus the flat kind rate must fit inside one transaction.
	flat := decimal.Max(cfg.TaskCommissionRate, cfg.ProductCommissionRate)
	if total := cfg.TotalLevelRate().Add(flat); total.GreaterThan(decimal.NewFromInt(1)) {
		verr.add("totalRate", fmt.Sprintf("level rates plus flat rate total %s, above 100%%", total.String()))
	}

	if verr.empty() {
		return nil
	}
	return verr
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	}
	return "failed " + fe.Tag()
}

// Propose validates cfg and stores it as a new inactive version.
func (s *RateConfigService) Propose(ctx context.Context, cfg models.RateConfig) (models.RateConfig, error) {
	if err := s.Validate(cfg); err != nil {
		return models.RateConfig{}, err
	}
	cfg.CreatedAt = s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.repo.Insert(ctx, cfg)
	if err != nil {
		return models.RateConfig{}, errors.Wrap(err, "store rate config")
	}
	s.log.Info("rate config proposed", zap.Int64("version", stored.Version), zap.Int("maxLevels", stored.MaxLevels))
	return stored, nil
}

// Activate makes version the active configuration. Distributions that already
// captured a snapshot keep using it.
func (s *RateConfigService) Activate(ctx context.Context, version int64) (models.RateConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.activate(ctx, version)
}

func (s *RateConfigService) activate(ctx context.Context, version int64) (models.RateConfig, error) {
	cfg, err := s.repo.Activate(ctx, version, s.now().UTC())
	if errors.Is(err, repositories.ErrNotFound) {
		return models.RateConfig{}, ErrRateVersionNotFound
	}
	if err != nil {
		return models.RateConfig{}, errors.Wrap(err, "activate rate config")
	}
	metrics.ObserveActivation()
	s.log.Info("rate config activated", zap.Int64("version", cfg.Version))
	return cfg, nil
}

// Update proposes and activates cfg in one call.
func (s *RateConfigService) Update(ctx context.Context, cfg models.RateConfig) (models.RateConfig, error) {
	stored, err := s.Propose(ctx, cfg)
	if err != nil {
		return models.RateConfig{}, err
	}
	return s.Activate(ctx, stored.Version)
}

// Active returns a snapshot of the active configuration.
func (s *RateConfigService) Active(ctx context.Context) (models.RateConfig, error) {
	cfg, err := s.repo.Active(ctx)
	if errors.Is(err, repositories.ErrNotFound) {
		return models.RateConfig{}, ErrRateConfigMissing
	}
	if err != nil {
		return models.RateConfig{}, errors.Wrap(err, "load active rate config")
	}
	return cfg.Clone(), nil
}

// Versions lists every stored version, oldest first.
func (s *RateConfigService) Versions(ctx context.Context) ([]models.RateConfig, error) {
	list, err := s.repo.List(ctx)
	return list, errors.Wrap(err, "list rate configs")
}

// Seed activates cfg when no version exists yet. It never overrides an
// operator's configuration.
func (s *RateConfigService) Seed(ctx context.Context, cfg models.RateConfig) (bool, error) {
	existing, err := s.repo.List(ctx)
	if err != nil {
		return false, errors.Wrap(err, "list rate configs")
	}
	if len(existing) > 0 {
		return false, nil
	}
	if _, err := s.Update(ctx, cfg); err != nil {
		return false, err
	}
	return true, nil
}

// NextPayoutDate is the next payout time for schedule at or after from (UTC).
// Weekly payouts run Monday 00:00, monthly payouts on the 1st.
func NextPayoutDate(schedule models.PayoutSchedule, from time.Time) time.Time {
	from = from.UTC()
	midnight := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	switch schedule {
	case models.PayoutWeekly:
		days := (int(time.Monday) - int(midnight.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		return midnight.AddDate(0, 0, days)
	case models.PayoutMonthly:
		return time.Date(from.Year(), from.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	}
	return from
}
