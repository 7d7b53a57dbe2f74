package metrics

import (
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainprojector_events_applied_total",
			Help: "Total number of events applied to the projection store",
		},
		[]string{"chain", "kind"},
	)

	eventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainprojector_events_skipped_total",
			Help: "Total number of envelopes skipped, by reason",
		},
		[]string{"chain", "reason"},
	)

	handlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainprojector_handler_duration_seconds",
			Help:    "Time taken to apply one event, transaction included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	lastAppliedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainprojector_last_applied_block",
			Help: "Block number of the most recently applied event",
		},
		[]string{"chain"},
	)

	storeRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainprojector_store_retries_total",
			Help: "Total number of retried store operations",
		},
		[]string{"operation"},
	)

	registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainprojector_registrations_total",
			Help: "Total number of contract registrations issued or retracted",
		},
		[]string{"chain", "action"},
	)

	sideEffects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainprojector_side_effects_total",
			Help: "Total number of side effects run for applied events, by result",
		},
		[]string{"chain", "kind", "result"},
	)

	keyLockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainprojector_keylock_wait_seconds",
			Help:    "Time spent waiting for aggregate key locks",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"backend"},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainprojector_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainprojector_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainprojector_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainprojector_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func chainLabel(chainID uint64) string {
	return strconv.FormatUint(chainID, 10)
}

func EventAppliedInc(chainID uint64, kind string, block uint64) {
	eventsApplied.WithLabelValues(chainLabel(chainID), kind).Inc()
	lastAppliedBlock.WithLabelValues(chainLabel(chainID)).Set(float64(block))
}

func EventSkippedInc(chainID uint64, reason string) {
	eventsSkipped.WithLabelValues(chainLabel(chainID), reason).Inc()
}

func HandlerDurationLog(kind string, duration time.Duration) {
	handlerDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func StoreRetryInc(operation string) {
	storeRetries.WithLabelValues(operation).Inc()
}

func RegistrationsInc(chainID uint64, action string, count int) {
	registrations.WithLabelValues(chainLabel(chainID), action).Add(float64(count))
}

func SideEffectInc(chainID uint64, kind, result string) {
	sideEffects.WithLabelValues(chainLabel(chainID), kind, result).Inc()
}

func KeyLockWaitLog(backend string, duration time.Duration) {
	keyLockWait.WithLabelValues(backend).Observe(duration.Seconds())
}

func ErrorInc(component, severity string) {
	Errors.WithLabelValues(component, severity).Inc()
}

// UpdateSystemMetrics refreshes runtime gauges. The metrics server calls it periodically.
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())
	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
