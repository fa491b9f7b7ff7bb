// Package metrics exposes the Prometheus collectors of the ledger service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "token_ledger"

var (
	// Registry holds the service Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ledgerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "calls_total",
			Help:      "Total number of ledger calls by operation and result code.",
		},
		[]string{"operation", "result"},
	)

	ledgerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "call_duration_seconds",
			Help:      "Duration of ledger calls including persistence.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"operation"},
	)

	transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transfers_total",
			Help:      "Total number of committed transfers.",
		},
		[]string{"fee_applied"},
	)

	feesCollected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "fees_collected_total",
			Help:      "Total number of non-zero fees routed to the fee sink.",
		},
	)

	paused = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "paused",
			Help:      "1 while transfers are paused.",
		},
	)

	feeRate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "fee_rate_bps",
			Help:      "Current buy/sell fee rate in basis points.",
		},
	)

	liquidityPairs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "liquidity_pairs",
			Help:      "Number of registered liquidity pairs.",
		},
	)

	streamSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "stream_subscribers",
			Help:      "Current number of websocket event subscribers.",
		},
	)

	eventsForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "forwarded_total",
			Help:      "Events handed to external sinks by result (sent, failed, dropped).",
		},
		[]string{"sink", "result"},
	)

	auditRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "runs_total",
			Help:      "Scheduled conservation checks by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ledgerCalls,
		ledgerCallDuration,
		transfers,
		feesCollected,
		paused,
		feeRate,
		liquidityPairs,
		streamSubscribers,
		eventsForwarded,
		auditRuns,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncInFlight and DecInFlight track requests currently being served.
func IncInFlight() { httpInFlight.Inc() }

// DecInFlight decrements the in-flight gauge.
func DecInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records one served request. path should be the route
// template, not the raw URL, to keep label cardinality bounded.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if path == "" {
		path = "unmatched"
	}
	method = strings.ToUpper(method)
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordLedgerCall records the outcome of one ledger operation. result is
// "ok" or the error code of the rejection.
func RecordLedgerCall(operation, result string, duration time.Duration) {
	if result == "" {
		result = "ok"
	}
	if duration <= 0 {
		duration = time.Microsecond
	}
	ledgerCalls.WithLabelValues(operation, result).Inc()
	ledgerCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTransfer counts a committed transfer.
func RecordTransfer(feeApplied bool) {
	transfers.WithLabelValues(strconv.FormatBool(feeApplied)).Inc()
	if feeApplied {
		feesCollected.Inc()
	}
}

// SetLedgerState publishes the current administrative state.
func SetLedgerState(isPaused bool, rateBps uint16, pairs int) {
	if isPaused {
		paused.Set(1)
	} else {
		paused.Set(0)
	}
	feeRate.Set(float64(rateBps))
	liquidityPairs.Set(float64(pairs))
}

// StreamSubscribed and StreamUnsubscribed track websocket clients.
func StreamSubscribed() { streamSubscribers.Inc() }

// StreamUnsubscribed decrements the websocket subscriber gauge.
func StreamUnsubscribed() { streamSubscribers.Dec() }

// RecordForwarded counts an event handed to an external sink.
func RecordForwarded(sink, result string) {
	eventsForwarded.WithLabelValues(sink, result).Inc()
}

// RecordAudit counts one scheduled conservation check.
func RecordAudit(ok bool) {
	result := "ok"
	if !ok {
		result = "violation"
	}
	auditRuns.WithLabelValues(result).Inc()
}
