package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/custodia-mx/custodia/internal/ledger"
)

var (
	custodiaRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custodia_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	custodiaRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "custodia_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	custodiaEntriesAppendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custodia_entries_appended_total",
		Help: "Total custody entries mined and persisted.",
	})

	custodiaAppendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "custodia_append_duration_seconds",
		Help:    "Time to mine and persist one custody entry.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
	})

	custodiaMiningTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custodia_mining_timeouts_total",
		Help: "Total proof-of-work searches that exhausted their attempt budget.",
	})

	custodiaViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custodia_validation_violations_total",
		Help: "Total chain validation violations by predicate.",
	}, []string{"code"})

	custodiaCaseValid = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "custodia_case_valid",
		Help: "Whether the case chain validated clean at last check (1) or not (0).",
	}, []string{"case_id"})

	custodiaCasesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "custodia_cases_total",
		Help: "Number of custody cases in the archive.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		custodiaRequestsTotal.WithLabelValues(method, path, status).Inc()
		custodiaRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordEntryAppended records one successful mine-and-persist cycle.
func RecordEntryAppended(d time.Duration) {
	custodiaEntriesAppendedTotal.Inc()
	custodiaAppendDuration.Observe(d.Seconds())
}

// RecordMiningTimeout records a proof-of-work search that hit its bound.
func RecordMiningTimeout() {
	custodiaMiningTimeoutsTotal.Inc()
}

// RecordValidation records the outcome of one chain validation.
func RecordValidation(report *ledger.Report) {
	valid := 0.0
	if report.Valid {
		valid = 1.0
	}
	custodiaCaseValid.WithLabelValues(report.CaseID.String()).Set(valid)
	for _, v := range report.Violations {
		custodiaViolationsTotal.WithLabelValues(string(v.Code)).Inc()
	}
}

// SetCasesGauge sets the archive-wide case count.
func SetCasesGauge(n int) {
	custodiaCasesTotal.Set(float64(n))
}
