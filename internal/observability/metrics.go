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
			Namespace: "contractrpc",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"host", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "contractrpc",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"host", "method", "path", "status"},
	)
	clientCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contractrpc",
			Subsystem: "client",
			Name:      "calls_total",
			Help:      "Contract calls issued by clients.",
		},
		[]string{"domain", "contract", "method", "status"},
	)
	clientDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "contractrpc",
			Subsystem: "client",
			Name:      "call_duration_seconds",
			Help:      "Contract call round trip in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"domain", "contract", "method", "status"},
	)
	hostRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contractrpc",
			Subsystem: "host",
			Name:      "requests_total",
			Help:      "Contract requests dispatched by the host.",
		},
		[]string{"transport", "contract", "method", "status"},
	)
	hostDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "contractrpc",
			Subsystem: "host",
			Name:      "request_duration_seconds",
			Help:      "Contract dispatch duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"transport", "contract", "method", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, clientCalls, clientDuration, hostRequests, hostDuration)
	})
}

func RecordHTTPRequest(host, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(host, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(host, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordClientCall counts one Invoke. status is the contract status code,
// or 0 when the call never produced a response.
func RecordClientCall(domain, contract, method string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	clientCalls.WithLabelValues(domain, contract, method, statusLabel).Inc()
	clientDuration.WithLabelValues(domain, contract, method, statusLabel).Observe(duration.Seconds())
}

func RecordHostRequest(transport, contract, method string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	hostRequests.WithLabelValues(transport, contract, method, statusLabel).Inc()
	hostDuration.WithLabelValues(transport, contract, method, statusLabel).Observe(duration.Seconds())
}
