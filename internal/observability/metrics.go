package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtmq",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served by the gateway.",
		},
		[]string{"gateway", "method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rtmq",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"gateway", "method", "route", "status"},
	)
	dispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtmq",
			Subsystem: "core",
			Name:      "messages_total",
			Help:      "Messages taken from input slots by the dispatcher.",
		},
		[]string{"app", "message", "result"},
	)
	transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtmq",
			Subsystem: "host",
			Name:      "transactions_total",
			Help:      "Host side message transactions.",
		},
		[]string{"message", "sync", "result"},
	)
	transactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rtmq",
			Subsystem: "host",
			Name:      "transaction_duration_seconds",
			Help:      "Host transaction duration in seconds, claim to reply.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 2.5},
		},
		[]string{"message", "sync", "result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, dispatched, transactions, transactionDuration)
	})
}

func RecordHTTPRequest(gateway, method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(gateway, method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(gateway, method, route, statusLabel).Observe(duration.Seconds())
}

// RecordDispatch counts one message handled (or dropped) by a core runtime.
func RecordDispatch(app, message, result string) {
	RegisterMetrics()
	dispatched.WithLabelValues(app, message, result).Inc()
}

func RecordTransaction(message string, sync bool, result string, duration time.Duration) {
	RegisterMetrics()
	syncLabel := strconv.FormatBool(sync)
	transactions.WithLabelValues(message, syncLabel, result).Inc()
	transactionDuration.WithLabelValues(message, syncLabel, result).Observe(duration.Seconds())
}
