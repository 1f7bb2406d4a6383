package policy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/tradeguard/internal/domain"
)

// DefaultCancellationRetention is the share of the unused boost value kept
// by the platform when a boost is cancelled early.
var DefaultCancellationRetention = decimal.RequireFromString("0.2")

// RefundPolicy decides how much of a reserve goes back to the buyer.
type RefundPolicy struct {
	CancellationRetention decimal.Decimal
}

// RefundAmount returns the refund and the amount retained by the platform.
//
// Order reserves refund their outstanding amount in full. Boost reserves
// refund amount * remaining/total * (1 - retention), rounded down; the
// elapsed time and the retention stay with the platform.
func (p RefundPolicy) RefundAmount(r domain.Reserve, now time.Time) (refund, retained int64) {
	outstanding := r.Outstanding()
	if r.Kind != domain.ReserveBoost {
		return outstanding, 0
	}
	total := r.ExpiresAt.Sub(r.CreatedAt)
	remaining := r.ExpiresAt.Sub(now)
	if total <= 0 || remaining <= 0 {
		return 0, outstanding
	}
	if remaining > total {
		remaining = total
	}
	keep := decimal.NewFromInt(1).Sub(p.CancellationRetention)
	refund = decimal.NewFromInt(outstanding).
		Mul(decimal.NewFromInt(int64(remaining))).
		Div(decimal.NewFromInt(int64(total))).
		Mul(keep).
		Floor().
		IntPart()
	if refund < 0 {
		refund = 0
	}
	if refund > outstanding {
		refund = outstanding
	}
	return refund, outstanding - refund
}
