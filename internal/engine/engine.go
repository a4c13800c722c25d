package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"updownbot/internal/history"
	"updownbot/internal/market"
	"updownbot/internal/metrics"
	"updownbot/internal/order"
	"updownbot/internal/risk"
	"updownbot/internal/strategy"

	"github.com/shopspring/decimal"
)

// ReferenceAge is how far back the momentum reference sample must be.
const ReferenceAge = 15 * time.Minute

const (
	ReasonInsufficientHistory = "insufficient_history"
	ReasonBalanceBelowFloor   = "balance_below_floor"
	ReasonZeroAllocation      = "zero_allocation"
	ReasonNoMatchingMarket    = "no_matching_market"
)

type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusSubmitted Status = "submitted"
	StatusFailed    Status = "failed"
)

// Outcome is the result of one cycle attempt.
type Outcome struct {
	Status Status
	Reason string
	Result *order.Result
	Err    error
}

func Skipped(reason string) Outcome { return Outcome{Status: StatusSkipped, Reason: reason} }

func Submitted(result order.Result) Outcome {
	return Outcome{Status: StatusSubmitted, Result: &result}
}

func Failed(err error) Outcome { return Outcome{Status: StatusFailed, Err: err} }

type PriceReader interface {
	CurrentPrice(ctx context.Context) (decimal.Decimal, error)
}

type BalanceReader interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
}

type MarketLister interface {
	ListActiveMarkets(ctx context.Context) ([]market.Market, error)
}

type Engine struct {
	history   *history.Store
	feed      PriceReader
	balances  BalanceReader
	markets   MarketLister
	pipeline  *order.Pipeline
	limits    risk.Limits
	slippage  decimal.Decimal
	decisions Recorder
	now       func() time.Time
}

type Deps struct {
	History   *history.Store
	Feed      PriceReader
	Balances  BalanceReader
	Markets   MarketLister
	Pipeline  *order.Pipeline
	Limits    risk.Limits
	Slippage  decimal.Decimal
	Decisions Recorder
}

func New(deps Deps) *Engine {
	return &Engine{
		history:   deps.History,
		feed:      deps.Feed,
		balances:  deps.Balances,
		markets:   deps.Markets,
		pipeline:  deps.Pipeline,
		limits:    deps.Limits,
		slippage:  deps.Slippage,
		decisions: deps.Decisions,
		now:       time.Now,
	}
}

// RunCycle executes one trading cycle for the interval identified by key and
// writes exactly one audit record.
func (e *Engine) RunCycle(ctx context.Context, key string) Outcome {
	start := e.now().UTC()
	decision := Decision{
		Timestamp:   start,
		IntervalKey: key,
		Mode:        e.mode(),
	}

	outcome := e.guardedCycle(ctx, start, &decision)

	decision.Result = outcome.Status
	decision.SkipReason = outcome.Reason
	if outcome.Err != nil {
		decision.Error = outcome.Err.Error()
	}
	decision.Order = outcome.Result
	e.decisions.Append(decision)

	metrics.CyclesTotal.WithLabelValues(string(outcome.Status), outcome.Reason).Inc()
	metrics.LastCycleTimestamp.Set(float64(start.Unix()))

	switch outcome.Status {
	case StatusSkipped:
		slog.Info("cycle skipped", "interval", key, "reason", outcome.Reason)
	case StatusFailed:
		slog.Error("cycle failed", "interval", key, "error", outcome.Err)
	default:
		slog.Info("cycle submitted", "interval", key, "market_id", decision.MarketID, "signal", decision.Signal, "dry_run", outcome.Result.DryRun)
	}
	return outcome
}

func (e *Engine) guardedCycle(ctx context.Context, start time.Time, decision *Decision) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Failed(fmt.Errorf("cycle panic: %v", r))
		}
	}()
	return e.cycle(ctx, start, decision)
}

func (e *Engine) cycle(ctx context.Context, start time.Time, decision *Decision) Outcome {
	h, resetErr := e.history.Load(ctx)
	if resetErr != nil {
		decision.HistoryReset = resetErr.Error()
		metrics.HistoryResetsTotal.Inc()
	}

	price, err := e.feed.CurrentPrice(ctx)
	if err != nil {
		return Failed(fmt.Errorf("fetch price: %w", err))
	}
	decision.CurrentPrice = price.String()
	metrics.LastPrice.Set(price.InexactFloat64())

	var reference *history.Sample
	if sample, ok := e.history.FindApprox(h, ReferenceAge); ok {
		reference = &sample
		refTime := sample.Time()
		decision.ReferencePrice = sample.Price.String()
		decision.ReferenceTime = &refTime
	}
	signal, hasSignal := strategy.ComputeSignal(price, reference)

	if _, err := e.history.Record(ctx, &h, price); err != nil {
		return Failed(fmt.Errorf("record price: %w", err))
	}
	metrics.HistoryEntries.Set(float64(len(h.Entries)))

	if !hasSignal {
		return Skipped(ReasonInsufficientHistory)
	}
	decision.Signal = signal

	balance, err := e.balances.Balance(ctx)
	if err != nil {
		return Failed(fmt.Errorf("fetch balance: %w", err))
	}
	decision.Balance = balance.String()
	if e.limits.BelowFloor(balance) {
		return Skipped(ReasonBalanceBelowFloor)
	}

	allocation := e.limits.Allocate(balance)
	size := risk.OrderSize(allocation)
	decision.Allocation = size.String()
	if !size.IsPositive() {
		return Skipped(ReasonZeroAllocation)
	}

	markets, err := e.markets.ListActiveMarkets(ctx)
	if err != nil {
		return Failed(fmt.Errorf("list markets: %w", err))
	}
	selected, ok := market.Select(markets, start)
	if !ok {
		return Skipped(ReasonNoMatchingMarket)
	}
	decision.MarketID = selected.ID

	payload := order.Build(selected, signal, size, start, e.slippage)
	result, err := e.pipeline.Submit(ctx, payload)
	if err != nil {
		out := Failed(err)
		out.Result = &result
		return out
	}
	return Submitted(result)
}

func (e *Engine) mode() string {
	if e.pipeline.Live() {
		return "live"
	}
	return "dry-run"
}
