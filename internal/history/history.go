package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	CurrentVersion = 1
	Retention      = 24 * time.Hour
)

// ErrNotFound is returned by a Backend when no document has been written yet.
var ErrNotFound = errors.New("history document not found")

type Sample struct {
	Timestamp int64           `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
}

func (s Sample) Time() time.Time {
	return time.UnixMilli(s.Timestamp).UTC()
}

// History entries keep insertion order and are not sorted by timestamp.
type History struct {
	Version int      `json:"version"`
	Entries []Sample `json:"entries"`
}

func New() History {
	return History{Version: CurrentVersion, Entries: []Sample{}}
}

// Backend persists the whole history document. Partial updates are not supported.
type Backend interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}

type Store struct {
	mu        sync.Mutex
	backend   Backend
	retention time.Duration
	now       func() time.Time
}

func NewStore(backend Backend) *Store {
	return &Store{
		backend:   backend,
		retention: Retention,
		now:       time.Now,
	}
}

// WithClock replaces the store's time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Load never fails the caller: the returned history is always usable. A
// non-nil error reports that the durable copy could not be read or parsed and
// was replaced by an empty history.
func (s *Store) Load(ctx context.Context) (History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.backend.Read(ctx)
	if errors.Is(err, ErrNotFound) {
		slog.Info("price history absent, starting empty")
		return New(), nil
	}
	if err != nil {
		slog.Warn("price history unreadable, starting empty", "error", err)
		return New(), fmt.Errorf("read price history: %w", err)
	}

	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		slog.Warn("price history unparseable, starting empty", "error", err)
		return New(), fmt.Errorf("parse price history: %w", err)
	}
	if h.Version == 0 {
		h.Version = CurrentVersion
	}
	if h.Entries == nil {
		h.Entries = []Sample{}
	}
	return h, nil
}

// Record appends a sample stamped with the current time, evicts everything
// older than the retention window and writes the result before returning.
func (s *Store) Record(ctx context.Context, h *History, price decimal.Decimal) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sample := Sample{Timestamp: now.UnixMilli(), Price: price}
	h.Entries = append(h.Entries, sample)

	cutoff := now.Add(-s.retention).UnixMilli()
	kept := h.Entries[:0]
	for _, entry := range h.Entries {
		if entry.Timestamp >= cutoff {
			kept = append(kept, entry)
		}
	}
	evicted := len(h.Entries) - len(kept)
	h.Entries = kept
	if h.Version == 0 {
		h.Version = CurrentVersion
	}

	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return sample, fmt.Errorf("marshal price history: %w", err)
	}
	if err := s.backend.Write(ctx, data); err != nil {
		return sample, fmt.Errorf("write price history: %w", err)
	}

	slog.Info("price sample recorded", "price", price.String(), "entries", len(h.Entries), "evicted", evicted)
	return sample, nil
}

// FindApprox returns the most recent sample that is at least age old.
func (s *Store) FindApprox(h History, age time.Duration) (Sample, bool) {
	target := s.now().Add(-age).UnixMilli()
	var best Sample
	found := false
	for _, entry := range h.Entries {
		if entry.Timestamp > target {
			continue
		}
		if !found || entry.Timestamp > best.Timestamp {
			best = entry
			found = true
		}
	}
	return best, found
}
