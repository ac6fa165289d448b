package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "grantflow",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grantflow",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "grantflow",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	tokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grantflow",
			Subsystem: "validation",
			Name:      "tokens_issued_total",
			Help:      "Total number of validation tokens issued.",
		},
		[]string{"type"},
	)

	tokensConfirmed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grantflow",
			Subsystem: "validation",
			Name:      "confirmations_total",
			Help:      "Total number of confirmation attempts by outcome.",
		},
		[]string{"type", "outcome"},
	)

	tokensPurged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grantflow",
			Subsystem: "validation",
			Name:      "tokens_purged_total",
			Help:      "Total number of expired tokens removed by the purge worker.",
		},
		[]string{"type"},
	)

	purgeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "grantflow",
			Subsystem: "validation",
			Name:      "purge_run_duration_seconds",
			Help:      "Duration of purge worker runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grantflow",
			Subsystem: "notifications",
			Name:      "sends_total",
			Help:      "Total number of outbound notification attempts.",
		},
		[]string{"intent", "result"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		tokensIssued,
		tokensConfirmed,
		tokensPurged,
		purgeDuration,
		notificationsSent,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordTokenIssued counts an issued validation token.
func RecordTokenIssued(tokenType string) {
	tokensIssued.WithLabelValues(tokenType).Inc()
}

// RecordConfirmation counts a confirmation attempt by outcome
// (confirmed, not_found, expired, forbidden).
func RecordConfirmation(tokenType, outcome string) {
	if tokenType == "" {
		tokenType = "unknown"
	}
	tokensConfirmed.WithLabelValues(tokenType, outcome).Inc()
}

// RecordTokenPurged counts a token removed by the purge worker.
func RecordTokenPurged(tokenType string) {
	tokensPurged.WithLabelValues(tokenType).Inc()
}

// RecordPurgeRun records the duration of one purge sweep.
func RecordPurgeRun(duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	purgeDuration.Observe(duration.Seconds())
}

// RecordNotification counts an outbound send attempt.
func RecordNotification(intent string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	notificationsSent.WithLabelValues(intent, result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) == 1 {
		return "/" + parts[0]
	}
	return "/" + parts[0] + "/:id"
}
