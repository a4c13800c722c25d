package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"updownbot/internal/order"
	"updownbot/internal/strategy"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Decision is the audit record written once per cycle attempt.
type Decision struct {
	RunID          string          `json:"run_id"`
	Timestamp      time.Time       `json:"timestamp"`
	IntervalKey    string          `json:"interval_key"`
	Mode           string          `json:"mode"`
	CurrentPrice   string          `json:"current_price,omitempty"`
	ReferencePrice string          `json:"reference_price,omitempty"`
	ReferenceTime  *time.Time      `json:"reference_time,omitempty"`
	Signal         strategy.Signal `json:"signal,omitempty"`
	Balance        string          `json:"balance,omitempty"`
	Allocation     string          `json:"allocation,omitempty"`
	MarketID       string          `json:"market_id,omitempty"`
	HistoryReset   string          `json:"history_reset,omitempty"`
	Result         Status          `json:"result"`
	SkipReason     string          `json:"skip_reason,omitempty"`
	Error          string          `json:"error,omitempty"`
	Order          *order.Result   `json:"order,omitempty"`
}

type Recorder interface {
	Append(decision Decision)
}

type DecisionLogger struct {
	runID  string
	writer io.WriteCloser
	mu     sync.Mutex
}

// NewDecisionLogger appends NDJSON to path, rotating at maxSizeMB.
func NewDecisionLogger(path string, runID string, maxSizeMB int) (*DecisionLogger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, err
	}
	return &DecisionLogger{
		runID: runID,
		writer: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: 10,
			Compress:   true,
		},
	}, nil
}

func (d *DecisionLogger) RunID() string {
	return d.runID
}

// Append never fails the caller; write problems go to stderr.
func (d *DecisionLogger) Append(decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "decision log panic: %v\n", r)
		}
	}()
	d.mu.Lock()
	defer d.mu.Unlock()
	if decision.RunID == "" {
		decision.RunID = d.runID
	}
	payload, err := json.Marshal(decision)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal decision: %v\n", err)
		return
	}
	if _, err := d.writer.Write(append(payload, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write decision: %v\n", err)
	}
}

func (d *DecisionLogger) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writer.Close()
}
