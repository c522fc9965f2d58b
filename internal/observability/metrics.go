// Package observability exposes the thresholder Prometheus metrics.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "thresholder_"

	// Sample results.
	SampleAggregated = "aggregated"
	SampleDuplicate  = "duplicate"
	SampleFiltered   = "filtered"
	SampleInvalid    = "invalid"
)

var (
	registerOnce sync.Once

	samplesTotal        *prometheus.CounterVec
	metricsLag          *prometheus.GaugeVec
	metricsBehindTotal  prometheus.Counter
	lifecycleEvents     *prometheus.CounterVec
	subAlarmStateTotal  *prometheus.CounterVec
	transitionsTotal    *prometheus.CounterVec
	emitDropped         prometheus.Counter
	processingLatency   *prometheus.HistogramVec
	partitionRepository *prometheus.GaugeVec
)

// Init registers the metrics with the default registry. Helpers are no-ops before Init.
func Init() {
	registerOnce.Do(func() {
		samplesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "samples_total",
				Help: "Total metric samples consumed by result",
			},
			[]string{"result"},
		)
		metricsLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "metrics_lag_seconds",
				Help: "Lag of the most recent routed sample",
			},
			[]string{"topic"},
		)
		metricsBehindTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "metrics_behind_total",
				Help: "Total MetricsBehind signals broadcast to the routers",
			},
		)
		lifecycleEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_events_total",
				Help: "Total sub-alarm lifecycle events by type",
			},
			[]string{"event"},
		)
		subAlarmStateTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sub_alarm_state_changes_total",
				Help: "Total sub-alarm state changes emitted by new state",
			},
			[]string{"state"},
		)
		transitionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_transitions_total",
				Help: "Total alarm state transitions by new state",
			},
			[]string{"state"},
		)
		emitDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "state_emit_dropped_total",
				Help: "Sub-alarm state changes dropped because the publish buffer was full",
			},
		)
		processingLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "processing_latency_seconds",
				Help:    "Message processing latency in seconds by loop",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"loop"},
		)
		partitionRepository = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "window_repositories",
				Help: "Window repositories held per partition",
			},
			[]string{"partition"},
		)

		prometheus.MustRegister(
			samplesTotal,
			metricsLag,
			metricsBehindTotal,
			lifecycleEvents,
			subAlarmStateTotal,
			transitionsTotal,
			emitDropped,
			processingLatency,
			partitionRepository,
		)
	})
}

// Handler serves the registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncSample counts a consumed sample.
func IncSample(result string) {
	if result == "" {
		result = "unknown"
	}
	if samplesTotal != nil {
		samplesTotal.WithLabelValues(result).Inc()
	}
}

// ObserveMetricsLag sets the minimum lag of the last period.
func ObserveMetricsLag(topic string, lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	if metricsLag != nil {
		metricsLag.WithLabelValues(topic).Set(lag.Seconds())
	}
}

// IncMetricsBehind counts a broadcast MetricsBehind signal.
func IncMetricsBehind() {
	if metricsBehindTotal != nil {
		metricsBehindTotal.Inc()
	}
}

// IncLifecycleEvent counts a consumed lifecycle event.
func IncLifecycleEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if lifecycleEvents != nil {
		lifecycleEvents.WithLabelValues(event).Inc()
	}
}

// IncSubAlarmState counts an emitted sub-alarm state.
func IncSubAlarmState(state string) {
	if subAlarmStateTotal != nil {
		subAlarmStateTotal.WithLabelValues(state).Inc()
	}
}

// IncTransition counts an alarm transition.
func IncTransition(state string) {
	if transitionsTotal != nil {
		transitionsTotal.WithLabelValues(state).Inc()
	}
}

// IncEmitDropped counts a dropped state change.
func IncEmitDropped() {
	if emitDropped != nil {
		emitDropped.Inc()
	}
}

// ObserveProcessing records how long a loop spent on one message.
func ObserveProcessing(loop string, duration time.Duration) {
	if processingLatency != nil {
		processingLatency.WithLabelValues(loop).Observe(duration.Seconds())
	}
}

// SetRepositories reports the repository count of a partition.
func SetRepositories(partition string, count int) {
	if partitionRepository != nil {
		partitionRepository.WithLabelValues(partition).Set(float64(count))
	}
}
