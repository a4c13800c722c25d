package md

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
)

type latestTradeClient interface {
	GetLatestCryptoTrade(symbol string, req marketdata.GetLatestCryptoTradeRequest) (*marketdata.CryptoTrade, error)
}

// AlpacaFeed reads the latest crypto trade price from Alpaca market data.
type AlpacaFeed struct {
	client latestTradeClient
	symbol string
}

func NewAlpacaFeed(apiKey, apiSecret, symbol string) *AlpacaFeed {
	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	})
	return &AlpacaFeed{client: client, symbol: symbol}
}

func (f *AlpacaFeed) CurrentPrice(ctx context.Context) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Decimal{}, err
	}
	trade, err := f.client.GetLatestCryptoTrade(f.symbol, marketdata.GetLatestCryptoTradeRequest{})
	if err != nil {
		slog.Error("fetch latest crypto trade failed", "symbol", f.symbol, "error", err)
		return decimal.Decimal{}, fmt.Errorf("latest trade %s: %w", f.symbol, err)
	}
	if trade == nil || trade.Price <= 0 {
		return decimal.Decimal{}, fmt.Errorf("latest trade %s: no usable price", f.symbol)
	}
	price := decimal.NewFromFloat(trade.Price)
	slog.Info("feed price fetched", "source", "alpaca", "symbol", f.symbol, "price", price.String())
	return price, nil
}
