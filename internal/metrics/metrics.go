// Package metrics exposes Prometheus collectors for the sentinel.
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
	pollsTotal                 *prometheus.CounterVec
	postsTotal                 *prometheus.CounterVec
	strategyResultsTotal       *prometheus.CounterVec
	imageUploadsTotal          *prometheus.CounterVec
	deliveriesTotal            *prometheus.CounterVec
	retriesTotal               *prometheus.CounterVec
	alertsTotal                *prometheus.CounterVec
	watermark                  *prometheus.GaugeVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times; every Observe
// helper calls it.
func Init() {
	once.Do(func() {
		pollsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_polls_total",
				Help: "Section polls, labeled by section and outcome.",
			},
			[]string{"section", "outcome"},
		)

		postsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_posts_total",
				Help: "Candidates processed, labeled by section and outcome.",
			},
			[]string{"section", "outcome"},
		)

		strategyResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_strategy_results_total",
				Help: "Acquisition strategy results, labeled by strategy and result.",
			},
			[]string{"strategy", "result"},
		)

		imageUploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_image_uploads_total",
				Help: "Image rehost attempts, labeled by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		)

		deliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_deliveries_total",
				Help: "Channel deliveries, labeled by channel type and outcome.",
			},
			[]string{"type", "outcome"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_retries_total",
				Help: "Backoff retries, labeled by operation.",
			},
			[]string{"operation"},
		)

		alertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_alerts_total",
				Help: "System alerts, labeled by outcome (sent, suppressed, failed).",
			},
			[]string{"outcome"},
		)

		watermark = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sentinel_watermark",
				Help: "Current watermark per section and field (pid, tid).",
			},
			[]string{"section", "field"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
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

// ObservePoll counts one section poll.
func ObservePoll(section, outcome string) {
	Init()
	pollsTotal.WithLabelValues(section, outcome).Inc()
}

// ObservePost counts one processed candidate.
func ObservePost(section, outcome string) {
	Init()
	postsTotal.WithLabelValues(section, outcome).Inc()
}

// ObserveStrategy counts one acquisition strategy result.
func ObserveStrategy(strategy, result string) {
	Init()
	strategyResultsTotal.WithLabelValues(strategy, result).Inc()
}

// ObserveImageUpload counts one rehost outcome.
func ObserveImageUpload(provider, outcome string) {
	Init()
	imageUploadsTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveDelivery counts one channel delivery.
func ObserveDelivery(channelType string, err error) {
	Init()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	deliveriesTotal.WithLabelValues(channelType, outcome).Inc()
}

// ObserveRetry counts one backoff retry.
func ObserveRetry(operation string) {
	Init()
	retriesTotal.WithLabelValues(operation).Inc()
}

// ObserveAlert counts one alert decision.
func ObserveAlert(outcome string) {
	Init()
	alertsTotal.WithLabelValues(outcome).Inc()
}

// SetWatermark publishes a section's watermark.
func SetWatermark(section string, lastPID, lastTID int64) {
	Init()
	watermark.WithLabelValues(section, "pid").Set(float64(lastPID))
	watermark.WithLabelValues(section, "tid").Set(float64(lastTID))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
