package metrics

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "updown_cycles_total", Help: "Trading cycles by outcome"},
		[]string{"status", "reason"},
	)
	HistoryResetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "updown_history_resets_total", Help: "Price history documents discarded as unreadable"},
	)
	LastPrice = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "updown_last_price", Help: "Most recent feed price"},
	)
	HistoryEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "updown_history_entries", Help: "Samples retained in price history"},
	)
	LastCycleTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "updown_last_cycle_timestamp_seconds", Help: "Unix time of the last cycle attempt"},
	)
)

func init() {
	Registry.MustRegister(
		CyclesTotal,
		HistoryResetsTotal,
		LastPrice,
		HistoryEntries,
		LastCycleTimestamp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	return srv
}
