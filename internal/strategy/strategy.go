package strategy

import (
	"updownbot/internal/history"

	"github.com/shopspring/decimal"
)

type Signal string

const (
	Up   Signal = "UP"
	Down Signal = "DOWN"
)

// ComputeSignal compares the current price with a reference sample. It
// reports false when there is no reference yet. Any positive move is Up;
// equality resolves to Down.
func ComputeSignal(current decimal.Decimal, reference *history.Sample) (Signal, bool) {
	if reference == nil {
		return "", false
	}
	if current.GreaterThan(reference.Price) {
		return Up, true
	}
	return Down, true
}
