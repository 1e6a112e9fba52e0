package utils

import (
	"github.com/shopspring/decimal"
)

// Currency describes the unit ledger amounts are kept in.
type Currency struct {
	Code       string
	MinorUnits int32
}

// RoundMinor rounds half to even at the currency's minor unit.
func (c Currency) RoundMinor(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(c.MinorUnits)
}

// MinorUnit is the smallest representable amount, e.g. 0.01 for two minor units.
func (c Currency) MinorUnit() decimal.Decimal {
	return decimal.New(1, -c.MinorUnits)
}

// ParseAmount parses a decimal string, treating "" as zero.
func ParseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
