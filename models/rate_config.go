// models/rate_config.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutSchedule controls how often accrued balances are paid out
type PayoutSchedule string

const (
	PayoutInstant PayoutSchedule = "instant"
	PayoutWeekly  PayoutSchedule = "weekly"
	PayoutMonthly PayoutSchedule = "monthly"
)

// Valid reports whether s is a known schedule.
func (s PayoutSchedule) Valid() bool {
	switch s {
	case PayoutInstant, PayoutWeekly, PayoutMonthly:
		return true
	}
	return false
}

// RateConfig is one version of the commission rate table.
// Values handed to the calculator are snapshots and must not be mutated.
// TaskCommissionRate and ProductCommissionRate are stored and validated for
// the billing side; the calculator pays level rates only.
type RateConfig struct {
	Version               int64             `json:"version"`
	LevelRates            []decimal.Decimal `json:"levelRates" validate:"required,min=1,max=10,dive,gte=0,lte=1"`
	MaxLevels             int               `json:"maxLevels" validate:"required,min=1,max=10"`
	MinimumPayout         decimal.Decimal   `json:"minimumPayout" validate:"gte=0"`
	PayoutSchedule        PayoutSchedule    `json:"payoutSchedule" validate:"required,oneof=instant weekly monthly"`
	TaskCommissionRate    decimal.Decimal   `json:"taskCommissionRate" validate:"gte=0,lte=1"`
	ProductCommissionRate decimal.Decimal   `json:"productCommissionRate" validate:"gte=0,lte=1"`
	MinimumCreditUnit     decimal.Decimal   `json:"minimumCreditUnit" validate:"gte=0"`
	Active                bool              `json:"active"`
	CreatedAt             time.Time         `json:"createdAt"`
	ActivatedAt           *time.Time        `json:"activatedAt,omitempty"`
}

// Clone returns a deep copy so callers can hold a snapshot safely.
func (c RateConfig) Clone() RateConfig {
	out := c
	out.LevelRates = append([]decimal.Decimal(nil), c.LevelRates...)
	if c.ActivatedAt != nil {
		t := *c.ActivatedAt
		out.ActivatedAt = &t
	}
	return out
}

// LevelRate returns the rate for the 1-indexed level, or zero past the table.
func (c RateConfig) LevelRate(level int) decimal.Decimal {
	if level < 1 || level > len(c.LevelRates) {
		return decimal.Zero
	}
	return c.LevelRates[level-1]
}

// TotalLevelRate is the sum of all level rates.
func (c RateConfig) TotalLevelRate() decimal.Decimal {
	sum := decimal.Zero
	for _, r := range c.LevelRates {
		sum = sum.Add(r)
	}
	return sum
}

// DefaultRateConfig is the 20/15/10/8/7 schedule used when nothing was seeded.
func DefaultRateConfig() RateConfig {
	return RateConfig{
		LevelRates: []decimal.Decimal{
			decimal.RequireFromString("0.20"),
			decimal.RequireFromString("0.15"),
			decimal.RequireFromString("0.10"),
			decimal.RequireFromString("0.08"),
			decimal.RequireFromString("0.07"),
		},
		MaxLevels:             5,
		MinimumPayout:         decimal.RequireFromString("500"),
		PayoutSchedule:        PayoutMonthly,
		TaskCommissionRate:    decimal.Zero,
		ProductCommissionRate: decimal.Zero,
		MinimumCreditUnit:     decimal.RequireFromString("0.01"),
	}
}

// RateConfigResponse wraps the active config with derived payout info
type RateConfigResponse struct {
	Config         RateConfig `json:"config"`
	NextPayoutDate time.Time  `json:"nextPayoutDate"`
}
