package risk

import (
	"log/slog"

	"github.com/shopspring/decimal"
)

// sizeDecimals is the venue's USDC size precision.
const sizeDecimals = 2

type Limits struct {
	MinBalance    decimal.Decimal
	MaxBetPercent decimal.Decimal
}

// BelowFloor is checked before any allocation is computed.
func (l Limits) BelowFloor(balance decimal.Decimal) bool {
	if balance.LessThan(l.MinBalance) {
		slog.Info("risk rejected", "reason", "balance_below_floor", "balance", balance.String(), "min", l.MinBalance.String())
		return true
	}
	return false
}

func (l Limits) Allocate(balance decimal.Decimal) decimal.Decimal {
	allocation := ComputeAllocation(balance, l.MaxBetPercent)
	slog.Info("risk evaluation", "balance", balance.String(), "max_bet_percent", l.MaxBetPercent.String(), "allocation", allocation.String())
	return allocation
}

// ComputeAllocation returns balance*maxBetPercent, never negative.
func ComputeAllocation(balance, maxBetPercent decimal.Decimal) decimal.Decimal {
	allocation := balance.Mul(maxBetPercent)
	if allocation.IsNegative() {
		return decimal.Zero
	}
	return allocation
}

// OrderSize truncates an allocation to the venue's size precision.
func OrderSize(allocation decimal.Decimal) decimal.Decimal {
	return allocation.Truncate(sizeDecimals)
}
