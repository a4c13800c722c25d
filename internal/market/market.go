package market

import (
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	Interval = 15 * time.Minute
	// Tolerance is the accepted distance between a market's start and the boundary.
	Tolerance = 60 * time.Second
)

// StartTimeFields lists the start-time spellings the venue has used, in
// order of preference.
var StartTimeFields = []string{
	"eventStartTime",
	"startTime",
	"start_time",
	"startDate",
	"start_date",
	"gameStartTime",
}

var startTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05Z07",
	"2006-01-02 15:04:05",
}

// Market is a venue market as listed; Raw keeps the full JSON object.
type Market struct {
	ID       string
	Question string
	Slug     string
	Raw      []byte
}

// StartTime resolves the market start through StartTimeFields. The first
// field holding a non-empty value decides; an unparseable value is not
// retried with later fields.
func (m Market) StartTime() (time.Time, bool) {
	doc := gjson.ParseBytes(m.Raw)
	for _, field := range StartTimeFields {
		value := doc.Get(field)
		if !value.Exists() || value.Type == gjson.Null {
			continue
		}
		if value.Type == gjson.String && strings.TrimSpace(value.Str) == "" {
			continue
		}
		return parseStartTime(value)
	}
	return time.Time{}, false
}

func parseStartTime(value gjson.Result) (time.Time, bool) {
	if value.Type == gjson.Number {
		return fromEpoch(value.Int()), true
	}
	text := strings.TrimSpace(value.String())
	if text == "" {
		return time.Time{}, false
	}
	for _, layout := range startTimeLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC(), true
		}
	}
	if num := gjson.Parse(text); num.Type == gjson.Number {
		return fromEpoch(num.Int()), true
	}
	return time.Time{}, false
}

// fromEpoch accepts seconds or milliseconds.
func fromEpoch(v int64) time.Time {
	if v > 1e12 {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}

// NextBoundary rounds now up to the next 15-minute mark, strictly after now.
func NextBoundary(now time.Time) time.Time {
	return now.UTC().Truncate(Interval).Add(Interval)
}

// Select returns the first market, in input order, whose start time is
// within Tolerance of the next boundary.
func Select(markets []Market, now time.Time) (Market, bool) {
	boundary := NextBoundary(now)
	lower := boundary.Add(-Tolerance)
	upper := boundary.Add(Tolerance)

	skipped := 0
	for _, m := range markets {
		start, ok := m.StartTime()
		if !ok {
			skipped++
			continue
		}
		if start.Before(lower) || start.After(upper) {
			continue
		}
		slog.Info("market selected", "market_id", m.ID, "slug", m.Slug, "start", start.Format(time.RFC3339), "boundary", boundary.Format(time.RFC3339))
		return m, true
	}
	slog.Info("no market matches boundary", "boundary", boundary.Format(time.RFC3339), "candidates", len(markets), "unparseable", skipped)
	return Market{}, false
}
