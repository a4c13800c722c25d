package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"updownbot/internal/market"
	"updownbot/internal/order"
)

const (
	// triggerMinute is the minute within each interval at which cycles fire,
	// one minute before the boundary.
	triggerMinute = 14
	// triggerJitter is the last second within triggerMinute that still fires.
	triggerJitter = 5
	tickEvery     = time.Minute
)

type CycleRunner interface {
	RunCycle(ctx context.Context, key string) Outcome
}

// Scheduler fires the cycle at most once per interval key.
type Scheduler struct {
	runner  CycleRunner
	lastKey string
	now     func() time.Time
}

func NewScheduler(runner CycleRunner) *Scheduler {
	return &Scheduler{runner: runner, now: time.Now}
}

// LastKey is the most recently fired interval key, empty before the first fire.
func (s *Scheduler) LastKey() string {
	return s.lastKey
}

// Due reports whether now falls in the trigger window of an interval that has
// not fired yet. The key is committed before returning.
func (s *Scheduler) Due(now time.Time) (string, bool) {
	now = now.UTC()
	intervalMinutes := int(market.Interval / time.Minute)
	if now.Minute()%intervalMinutes != triggerMinute || now.Second() > triggerJitter {
		return "", false
	}
	key := market.NextBoundary(now.Truncate(time.Minute)).Format(time.RFC3339)
	if key == s.lastKey {
		return "", false
	}
	s.lastKey = key
	return key, true
}

// Tick runs one cycle if due. A panicking cycle is reported as failed.
func (s *Scheduler) Tick(ctx context.Context) (outcome Outcome, fired bool) {
	key, ok := s.Due(s.now())
	if !ok {
		return Outcome{}, false
	}
	slog.Info("interval trigger", "interval", key)

	fired = true
	defer func() {
		if r := recover(); r != nil {
			outcome = Failed(fmt.Errorf("cycle panic: %v", r))
			slog.Error("cycle panicked", "interval", key, "panic", r)
		}
	}()
	outcome = s.runner.RunCycle(ctx, key)
	return outcome, fired
}

// Run ticks at the start of every minute until ctx is done. It stops early
// only when a cycle reports a configuration error.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		outcome, fired := s.Tick(ctx)
		if fired && outcome.Status == StatusFailed {
			var cfgErr *order.ConfigError
			if errors.As(outcome.Err, &cfgErr) {
				return cfgErr
			}
		}
		if err := waitForContext(ctx, untilNextMinute(s.now())); err != nil {
			return err
		}
	}
}

func untilNextMinute(now time.Time) time.Duration {
	next := now.Truncate(tickEvery).Add(tickEvery)
	return next.Sub(now)
}

func waitForContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
