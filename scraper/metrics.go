package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the crawler.
type Metrics struct {
	Registry           *prometheus.Registry
	PagesTotal         prometheus.Counter
	PageLoadDuration   prometheus.Histogram
	ItemsSeenTotal     prometheus.Counter
	RecordsTotal       *prometheus.CounterVec
	ItemsSkippedTotal  *prometheus.CounterVec
	EnrichmentsTotal   *prometheus.CounterVec
	RateLimitWaitTotal prometheus.Counter
	ErrorsTotal        *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_pages_total",
			Help: "Listing pages loaded.",
		},
	)
	pageLoad := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawler_page_load_duration_seconds",
			Help:    "Latency of listing and detail page loads.",
			Buckets: prometheus.DefBuckets,
		},
	)
	itemsSeen := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_items_seen_total",
			Help: "Listing items found on crawled pages.",
		},
	)
	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_records_total",
			Help: "Product records by stage.",
		},
		[]string{"stage"},
	)
	skipped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_items_skipped_total",
			Help: "Listing items that produced no records, by reason.",
		},
		[]string{"reason"},
	)
	enrichments := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_enrichments_total",
			Help: "Detail page enrichment attempts by outcome.",
		},
		[]string{"outcome"},
	)
	rateLimitWaits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_rate_limit_waits_total",
			Help: "Waits taken after a rate-limited completion.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_errors_total",
			Help: "Crawler errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(pages, pageLoad, itemsSeen, records, skipped, enrichments, rateLimitWaits, errorsTotal)

	return &Metrics{
		Registry:           registry,
		PagesTotal:         pages,
		PageLoadDuration:   pageLoad,
		ItemsSeenTotal:     itemsSeen,
		RecordsTotal:       records,
		ItemsSkippedTotal:  skipped,
		EnrichmentsTotal:   enrichments,
		RateLimitWaitTotal: rateLimitWaits,
		ErrorsTotal:        errorsTotal,
	}
}

// IncPages increments the listing pages counter.
func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.PagesTotal.Inc()
}

// ObserveLoad records a page load duration.
func (m *Metrics) ObserveLoad(d time.Duration) {
	if m == nil {
		return
	}
	m.PageLoadDuration.Observe(d.Seconds())
}

// AddItems adds to the items seen counter.
func (m *Metrics) AddItems(n int) {
	if m == nil {
		return
	}
	m.ItemsSeenTotal.Add(float64(n))
}

// AddRecords adds n records at a stage (extracted, persisted).
func (m *Metrics) AddRecords(stage string, n int) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(stage).Add(float64(n))
}

// IncSkipped increments the skipped items counter for a reason.
func (m *Metrics) IncSkipped(reason string) {
	if m == nil {
		return
	}
	m.ItemsSkippedTotal.WithLabelValues(reason).Inc()
}

// IncEnrichment increments the enrichment counter for an outcome.
func (m *Metrics) IncEnrichment(outcome string) {
	if m == nil {
		return
	}
	m.EnrichmentsTotal.WithLabelValues(outcome).Inc()
}

// IncRateLimitWaits increments the rate-limit wait counter.
func (m *Metrics) IncRateLimitWaits() {
	if m == nil {
		return
	}
	m.RateLimitWaitTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
