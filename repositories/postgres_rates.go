package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/HSouheill/barrim_referral/models"
)

const rateConfigColumns = `version, level_rates, max_levels, minimum_payout, payout_schedule, task_commission_rate,
	product_commission_rate, minimum_credit_unit, active, created_at, activated_at`

type rateConfigRow struct {
	Version               int64           `db:"version"`
	LevelRates            string          `db:"level_rates"`
	MaxLevels             int             `db:"max_levels"`
	MinimumPayout         decimal.Decimal `db:"minimum_payout"`
	PayoutSchedule        string          `db:"payout_schedule"`
	TaskCommissionRate    decimal.Decimal `db:"task_commission_rate"`
	ProductCommissionRate decimal.Decimal `db:"product_commission_rate"`
	MinimumCreditUnit     decimal.Decimal `db:"minimum_credit_unit"`
	Active                bool            `db:"active"`
	CreatedAt             time.Time       `db:"created_at"`
	ActivatedAt           *time.Time      `db:"activated_at"`
}

func (r rateConfigRow) config() (models.RateConfig, error) {
	var rates []decimal.Decimal
	if err := json.Unmarshal([]byte(r.LevelRates), &rates); err != nil {
		return models.RateConfig{}, err
	}
	return models.RateConfig{
		Version:               r.Version,
		LevelRates:            rates,
		MaxLevels:             r.MaxLevels,
		MinimumPayout:         r.MinimumPayout,
		PayoutSchedule:        models.PayoutSchedule(r.PayoutSchedule),
		TaskCommissionRate:    r.TaskCommissionRate,
		ProductCommissionRate: r.ProductCommissionRate,
		MinimumCreditUnit:     r.MinimumCreditUnit,
		Active:                r.Active,
		CreatedAt:             r.CreatedAt,
		ActivatedAt:           r.ActivatedAt,
	}, nil
}

type PostgresRateConfigRepository struct {
	db *sqlx.DB
}

func NewPostgresRateConfigRepository(db *sqlx.DB) *PostgresRateConfigRepository {
	return &PostgresRateConfigRepository{db: db}
}

func (r *PostgresRateConfigRepository) Insert(ctx context.Context, cfg models.RateConfig) (models.RateConfig, error) {
	rates, err := json.Marshal(cfg.LevelRates)
	if err != nil {
		return models.RateConfig{}, err
	}
	cfg = cfg.Clone()
	cfg.Active = false
	cfg.ActivatedAt = nil
	err = r.db.GetContext(ctx, &cfg.Version,
		`INSERT INTO rate_configs (level_rates, max_levels, minimum_payout, payout_schedule, task_commission_rate,
		                           product_commission_rate, minimum_credit_unit, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
		 RETURNING version`,
		string(rates), cfg.MaxLevels, cfg.MinimumPayout, string(cfg.PayoutSchedule), cfg.TaskCommissionRate,
		cfg.ProductCommissionRate, cfg.MinimumCreditUnit, cfg.CreatedAt)
	if err != nil {
		return models.RateConfig{}, err
	}
	return cfg, nil
}

func getRateConfig(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (models.RateConfig, error) {
	var row rateConfigRow
	err := sqlx.GetContext(ctx, q, &row, query, args...)
	if err == sql.ErrNoRows {
		return models.RateConfig{}, ErrNotFound
	}
	if err != nil {
		return models.RateConfig{}, err
	}
	return row.config()
}

func (r *PostgresRateConfigRepository) Get(ctx context.Context, version int64) (models.RateConfig, error) {
	return getRateConfig(ctx, r.db, `SELECT `+rateConfigColumns+` FROM rate_configs WHERE version = $1`, version)
}

func (r *PostgresRateConfigRepository) Active(ctx context.Context) (models.RateConfig, error) {
	return getRateConfig(ctx, r.db, `SELECT `+rateConfigColumns+` FROM rate_configs WHERE active`)
}

func (r *PostgresRateConfigRepository) Activate(ctx context.Context, version int64, at time.Time) (models.RateConfig, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.RateConfig{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE rate_configs SET active = FALSE WHERE active AND version <> $1`, version); err != nil {
		return models.RateConfig{}, err
	}
	cfg, err := getRateConfig(ctx, tx,
		`UPDATE rate_configs SET active = TRUE, activated_at = $2 WHERE version = $1 RETURNING `+rateConfigColumns,
		version, at)
	if err != nil {
		return models.RateConfig{}, err
	}
	return cfg, tx.Commit()
}

func (r *PostgresRateConfigRepository) List(ctx context.Context) ([]models.RateConfig, error) {
	var rows []rateConfigRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+rateConfigColumns+` FROM rate_configs ORDER BY version`); err != nil {
		return nil, err
	}
	out := make([]models.RateConfig, 0, len(rows))
	for _, row := range rows {
		cfg, err := row.config()
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

// NewPostgresStore wires the PostgreSQL repositories over one pool.
func NewPostgresStore(db *sqlx.DB) *Store {
	return &Store{
		Network: NewPostgresNetworkRepository(db),
		Ledger:  NewPostgresLedgerRepository(db),
		Rates:   NewPostgresRateConfigRepository(db),
		Close:   func(context.Context) error { return db.Close() },
	}
}
