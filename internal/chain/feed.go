package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// staleAfter is how old an oracle round may be before a warning is logged.
const staleAfter = time.Hour

// PriceFeed reads a Chainlink-style aggregator.
type PriceFeed struct {
	contract contract
	decimals int32
	now      func() time.Time
}

func NewPriceFeed(caller Caller, address string) (*PriceFeed, error) {
	c, err := newContract(caller, address, aggregatorABI)
	if err != nil {
		return nil, err
	}
	return &PriceFeed{contract: c, decimals: -1, now: time.Now}, nil
}

func (f *PriceFeed) CurrentPrice(ctx context.Context) (decimal.Decimal, error) {
	if f.decimals < 0 {
		d, err := f.contract.decimals(ctx)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("feed decimals: %w", err)
		}
		f.decimals = d
	}

	values, err := f.contract.call(ctx, "latestRoundData")
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("feed latest round: %w", err)
	}
	if len(values) != 5 {
		return decimal.Decimal{}, fmt.Errorf("feed latest round: unexpected output length %d", len(values))
	}
	answer, ok := values[1].(*big.Int)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("feed answer: unexpected type %T", values[1])
	}
	if answer.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("feed answer not positive: %s", answer)
	}
	if updatedAt, ok := values[3].(*big.Int); ok {
		age := f.now().Sub(time.Unix(updatedAt.Int64(), 0))
		if age > staleAfter {
			slog.Warn("feed round is stale", "updated_at", time.Unix(updatedAt.Int64(), 0).UTC().Format(time.RFC3339), "age", age)
		}
	}

	price := decimal.NewFromBigInt(answer, -f.decimals)
	slog.Info("feed price fetched", "price", price.String())
	return price, nil
}
