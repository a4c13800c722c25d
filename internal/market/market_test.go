package market

import (
	"fmt"
	"testing"
	"time"
)

func rawMarket(id, field, value string) Market {
	return Market{ID: id, Raw: []byte(fmt.Sprintf(`{"id":%q,%q:%s}`, id, field, value))}
}

func TestNextBoundary(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 14, 3, 0, time.UTC)
	want := time.Date(2024, 5, 1, 12, 15, 0, 0, time.UTC)
	if got := NextBoundary(now); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestSelectMarketAtBoundary(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 14, 3, 0, time.UTC)
	markets := []Market{
		rawMarket("late", "eventStartTime", `"2024-05-01T12:16:30Z"`),
		rawMarket("exact", "eventStartTime", `"2024-05-01T12:15:00Z"`),
	}

	got, ok := Select(markets, now)
	if !ok {
		t.Fatalf("expected a market to be selected")
	}
	if got.ID != "exact" {
		t.Fatalf("expected market starting at boundary, got %s", got.ID)
	}
}

func TestSelectRejectsMarketNinetySecondsLate(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 14, 3, 0, time.UTC)
	markets := []Market{rawMarket("late", "startTime", `"2024-05-01T12:16:30Z"`)}

	if _, ok := Select(markets, now); ok {
		t.Fatalf("expected no selection for market 90s after boundary")
	}
}

func TestSelectWindowIsInclusive(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 14, 3, 0, time.UTC)
	markets := []Market{rawMarket("edge", "start_date", `"2024-05-01T12:14:00Z"`)}

	if _, ok := Select(markets, now); !ok {
		t.Fatalf("expected market exactly 60s before boundary to be selected")
	}
}

func TestSelectFirstMatchInInputOrder(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 14, 3, 0, time.UTC)
	markets := []Market{
		rawMarket("first", "startDate", `"2024-05-01T12:15:30Z"`),
		rawMarket("second", "startDate", `"2024-05-01T12:15:00Z"`),
	}

	got, ok := Select(markets, now)
	if !ok || got.ID != "first" {
		t.Fatalf("expected first matching market, got %q ok=%v", got.ID, ok)
	}
}

func TestSelectSkipsUnparseableStartTimes(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 14, 3, 0, time.UTC)
	markets := []Market{
		rawMarket("garbage", "eventStartTime", `"next tuesday"`),
		{ID: "missing", Raw: []byte(`{"id":"missing"}`)},
		{ID: "broken", Raw: []byte(`not json`)},
		rawMarket("good", "start_time", `"2024-05-01 12:15:00+00"`),
	}

	got, ok := Select(markets, now)
	if !ok || got.ID != "good" {
		t.Fatalf("expected good market, got %q ok=%v", got.ID, ok)
	}
}

func TestStartTimeFormats(t *testing.T) {
	want := time.Date(2024, 5, 1, 12, 15, 0, 0, time.UTC)
	cases := []Market{
		rawMarket("rfc3339", "eventStartTime", `"2024-05-01T12:15:00Z"`),
		rawMarket("nano", "eventStartTime", `"2024-05-01T12:15:00.000Z"`),
		rawMarket("offset", "startTime", `"2024-05-01T14:15:00+02:00"`),
		rawMarket("naive", "startDate", `"2024-05-01T12:15:00"`),
		rawMarket("space", "start_date", `"2024-05-01 12:15:00"`),
		rawMarket("seconds", "gameStartTime", fmt.Sprintf("%d", want.Unix())),
		rawMarket("millis", "startTime", fmt.Sprintf("%d", want.UnixMilli())),
		rawMarket("quoted-millis", "startTime", fmt.Sprintf("%q", fmt.Sprint(want.UnixMilli()))),
	}
	for _, m := range cases {
		got, ok := m.StartTime()
		if !ok {
			t.Fatalf("%s: expected start time to parse", m.ID)
		}
		if !got.Equal(want) {
			t.Fatalf("%s: expected %s, got %s", m.ID, want, got)
		}
	}
}

func TestStartTimeFieldPreference(t *testing.T) {
	m := Market{ID: "both", Raw: []byte(`{"startDate":"2024-05-01T00:00:00Z","eventStartTime":"2024-05-01T12:15:00Z"}`)}

	got, ok := m.StartTime()
	if !ok {
		t.Fatalf("expected start time")
	}
	if got.Hour() != 12 {
		t.Fatalf("expected eventStartTime to take precedence, got %s", got)
	}
}

func TestStartTimeSkipsEmptyPreferredField(t *testing.T) {
	m := Market{ID: "blank", Raw: []byte(`{"id":"blank","eventStartTime":"","startTime":"2024-05-01T12:15:00Z"}`)}

	selected, ok := Select([]Market{m}, time.Date(2024, 5, 1, 12, 14, 3, 0, time.UTC))
	if !ok || selected.ID != "blank" {
		t.Fatalf("expected empty eventStartTime to fall through to startTime")
	}
}
