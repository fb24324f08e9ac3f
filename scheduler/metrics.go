package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scrape loop.
type Metrics struct {
	Registry          *prometheus.Registry
	PassesTotal       prometheus.Counter
	URLsTotal         *prometheus.CounterVec
	FetchDuration     prometheus.Histogram
	ReconcileTotal    *prometheus.CounterVec
	PriceChanges      prometheus.Counter
	AvailabilityFlips prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	passes := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flatwatch_passes_total",
			Help: "Total scheduler passes completed.",
		},
	)
	urls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flatwatch_urls_total",
			Help: "Total URLs processed, by result.",
		},
		[]string{"result"},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flatwatch_fetch_duration_seconds",
			Help:    "Listing page fetch latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	reconciles := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flatwatch_reconcile_total",
			Help: "Total reconciliations, by outcome.",
		},
		[]string{"outcome"},
	)
	priceChanges := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flatwatch_price_changes_total",
			Help: "Total detected price changes.",
		},
	)
	availabilityFlips := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flatwatch_availability_flips_total",
			Help: "Total detected availability transitions.",
		},
	)

	registry.MustRegister(passes, urls, fetchDuration, reconciles, priceChanges, availabilityFlips)

	return &Metrics{
		Registry:          registry,
		PassesTotal:       passes,
		URLsTotal:         urls,
		FetchDuration:     fetchDuration,
		ReconcileTotal:    reconciles,
		PriceChanges:      priceChanges,
		AvailabilityFlips: availabilityFlips,
	}
}

// IncPass increments the completed-pass counter.
func (m *Metrics) IncPass() {
	if m == nil {
		return
	}
	m.PassesTotal.Inc()
}

// IncURL increments the URL counter for a result label.
func (m *Metrics) IncURL(result string) {
	if m == nil {
		return
	}
	m.URLsTotal.WithLabelValues(result).Inc()
}

// ObserveFetch records one fetch duration.
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// IncReconcile increments the reconcile counter for an outcome label.
func (m *Metrics) IncReconcile(outcome string) {
	if m == nil {
		return
	}
	m.ReconcileTotal.WithLabelValues(outcome).Inc()
}

// IncPriceChange increments the price-change counter.
func (m *Metrics) IncPriceChange() {
	if m == nil {
		return
	}
	m.PriceChanges.Inc()
}

// IncAvailabilityFlip increments the availability-transition counter.
func (m *Metrics) IncAvailabilityFlip() {
	if m == nil {
		return
	}
	m.AvailabilityFlips.Inc()
}
