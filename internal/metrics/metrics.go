// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	questionsUpsertedTotal *prometheus.CounterVec
	malformedRecordsTotal  prometheus.Counter
	skippedRecordsTotal    prometheus.Counter
	executionsTotal        *prometheus.CounterVec
	crawlDurationSeconds   *prometheus.HistogramVec
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec

	once sync.Once
)

// Init registers the Prometheus collectors. Safe to call multiple times; the
// observe helpers call it themselves so collectors exist even in tests.
func Init() {
	once.Do(func() {
		questionsUpsertedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_questions_upserted_total",
				Help: "Total number of questions upserted, labeled by language.",
			},
			[]string{"language"},
		)

		malformedRecordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_malformed_records_total",
				Help: "Total number of scraped records skipped as malformed.",
			},
		)

		skippedRecordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_skipped_records_total",
				Help: "Total number of well-formed records dropped after exhausting upsert retries.",
			},
		)

		executionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_executions_total",
				Help: "Total number of crawl invocations, labeled by status.",
			},
			[]string{"status"},
		)

		crawlDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_run_duration_seconds",
				Help:    "Histogram of full crawl invocation durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveQuestionUpserted increments the upsert counter for a language.
func ObserveQuestionUpserted(language string) {
	Init()
	questionsUpsertedTotal.WithLabelValues(language).Inc()
}

// ObserveMalformedRecord increments the skipped-record counter.
func ObserveMalformedRecord() {
	Init()
	malformedRecordsTotal.Inc()
}

// ObserveSkippedRecord increments the dropped-after-retries counter.
func ObserveSkippedRecord() {
	Init()
	skippedRecordsTotal.Inc()
}

// ObserveExecution increments the invocation counter for the given status.
func ObserveExecution(status string) {
	Init()
	executionsTotal.WithLabelValues(status).Inc()
}

// CrawlTimer measures one invocation's wall-clock duration.
type CrawlTimer struct {
	start time.Time
}

// StartCrawlTimer begins timing an invocation.
func StartCrawlTimer() *CrawlTimer {
	Init()
	return &CrawlTimer{start: time.Now()}
}

// Observe records the elapsed duration under the terminal status.
func (t *CrawlTimer) Observe(status string) {
	crawlDurationSeconds.WithLabelValues(status).Observe(time.Since(t.start).Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
