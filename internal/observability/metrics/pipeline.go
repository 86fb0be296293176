package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/answer-pipeline/internal/core/domain"
)

// PipelineMetrics exposes HTTP server metrics plus per-run pipeline
// observations on a dedicated registry.
type PipelineMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	runsTotal         *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	reRetrievalsTotal *prometheus.CounterVec
	rankedResults     *prometheus.HistogramVec
	failedSubSearches *prometheus.CounterVec
	duplicatesRemoved *prometheus.CounterVec
	droppedBelowFloor *prometheus.CounterVec
	fallbacksTotal    *prometheus.CounterVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "anspipe",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "anspipe",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "anspipe",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "anspipe",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total completed pipeline runs by terminal status.",
		},
		[]string{"service", "status"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "anspipe",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Per-stage execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage"},
	)
	reRetrievalsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "anspipe",
			Subsystem: "pipeline",
			Name:      "re_retrievals_total",
			Help:      "Total runs that traversed the quality-gate retry edge.",
		},
		[]string{"service"},
	)
	rankedResults := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "anspipe",
			Subsystem: "pipeline",
			Name:      "ranked_results",
			Help:      "Distribution of ranked results per successful run.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)
	failedSubSearches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "anspipe",
			Subsystem: "pipeline",
			Name:      "failed_sub_searches_total",
			Help:      "Total sub-searches that failed or timed out.",
		},
		[]string{"service"},
	)
	duplicatesRemoved := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "anspipe",
			Subsystem: "pipeline",
			Name:      "duplicates_removed_total",
			Help:      "Total near-duplicate candidates removed by deduplication.",
		},
		[]string{"service"},
	)
	droppedBelowFloor := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "anspipe",
			Subsystem: "pipeline",
			Name:      "dropped_below_floor_total",
			Help:      "Total candidates dropped below the combined-score floor.",
		},
		[]string{"service"},
	)
	fallbacksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "anspipe",
			Subsystem: "pipeline",
			Name:      "fallbacks_total",
			Help:      "Total soft-degraded stages by kind.",
		},
		[]string{"service", "kind"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		runsTotal,
		stageDuration,
		reRetrievalsTotal,
		rankedResults,
		failedSubSearches,
		duplicatesRemoved,
		droppedBelowFloor,
		fallbacksTotal,
	)

	return &PipelineMetrics{
		registry:          registry,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		runsTotal:         runsTotal,
		stageDuration:     stageDuration,
		reRetrievalsTotal: reRetrievalsTotal,
		rankedResults:     rankedResults,
		failedSubSearches: failedSubSearches,
		duplicatesRemoved: duplicatesRemoved,
		droppedBelowFloor: droppedBelowFloor,
		fallbacksTotal:    fallbacksTotal,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRun observes one terminal pipeline result.
func (m *PipelineMetrics) RecordRun(service string, result domain.Result) {
	m.runsTotal.WithLabelValues(service, string(result.Status)).Inc()

	for stage, millis := range result.Metrics.StageMillis {
		m.stageDuration.WithLabelValues(service, string(stage)).Observe(float64(millis) / 1000.0)
	}
	if len(result.Metrics.RetryReasons) > 0 {
		m.reRetrievalsTotal.WithLabelValues(service).Inc()
	}
	if result.Status == domain.StatusSuccess {
		m.rankedResults.WithLabelValues(service).Observe(float64(len(result.SourcesCited)))
	}
	if result.Metrics.FailedSubSearches > 0 {
		m.failedSubSearches.WithLabelValues(service).Add(float64(result.Metrics.FailedSubSearches))
	}
	if result.Metrics.DuplicatesRemoved > 0 {
		m.duplicatesRemoved.WithLabelValues(service).Add(float64(result.Metrics.DuplicatesRemoved))
	}
	if result.Metrics.DroppedBelowFloor > 0 {
		m.droppedBelowFloor.WithLabelValues(service).Add(float64(result.Metrics.DroppedBelowFloor))
	}
	if result.Metrics.AnalysisFallback {
		m.fallbacksTotal.WithLabelValues(service, "query_analysis").Inc()
	}
	if result.Metrics.QualityFallback {
		m.fallbacksTotal.WithLabelValues(service, "quality_gate").Inc()
	}
}

func (m *PipelineMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			r.URL.Path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
