// Package policy holds the pure money and verification rules of the escrow
// engine. Nothing here touches storage.
package policy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultFeeRate is the platform commission taken from every split.
var DefaultFeeRate = decimal.RequireFromString("0.05")

// FeeSchedule computes platform fees on gross split amounts.
type FeeSchedule struct {
	Rate decimal.Decimal
}

func NewFeeSchedule(rate decimal.Decimal) (FeeSchedule, error) {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return FeeSchedule{}, fmt.Errorf("fee rate %s out of range [0,1)", rate)
	}
	return FeeSchedule{Rate: rate}, nil
}

// PlatformFee returns round(gross * rate), rounding half away from zero.
func (f FeeSchedule) PlatformFee(gross int64) int64 {
	return decimal.NewFromInt(gross).Mul(f.Rate).Round(0).IntPart()
}

// Net returns the payee's share after the platform fee.
func (f FeeSchedule) Net(gross int64) (net, fee int64) {
	fee = f.PlatformFee(gross)
	return gross - fee, fee
}
