// Package metrics exposes the Prometheus collectors the admin HTTP
// server publishes at /metrics, following the teacher's pattern of a
// package-level Registry plus typed Record* helpers instead of
// threading a metrics object through every call site.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

var (
	// Registry holds every collector this process exposes.
	Registry = prometheus.NewRegistry()

	recordsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vessel_notifier",
		Subsystem: "source",
		Name:      "records_consumed_total",
		Help:      "Total vessel records read from the partitioned log.",
	})

	recordsCommitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vessel_notifier",
		Subsystem: "source",
		Name:      "records_committed_total",
		Help:      "Total vessel records whose offset was committed after successful processing.",
	})

	decodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vessel_notifier",
		Subsystem: "source",
		Name:      "decode_errors_total",
		Help:      "Total records that failed to decode.",
	})

	ruleEvaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vessel_notifier",
		Subsystem: "processor",
		Name:      "rule_evaluations_total",
		Help:      "Total rule evaluations, grouped by evaluator kind and outcome.",
	}, []string{"evaluator", "outcome"})

	processingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vessel_notifier",
		Subsystem: "processor",
		Name:      "record_processing_duration_seconds",
		Help:      "Wall-clock time to run the full per-record pipeline.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	notificationsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vessel_notifier",
		Subsystem: "notifier",
		Name:      "notifications_emitted_total",
		Help:      "Total notifications appended, grouped by typeId.",
	}, []string{"type_id"})

	discoveryCardinality = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vessel_notifier",
		Subsystem: "discovery",
		Name:      "cardinality",
		Help:      "Current size of each discovery set.",
	}, []string{"set"})

	catalogRuleCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vessel_notifier",
		Subsystem: "catalog",
		Name:      "active_rule_count",
		Help:      "Number of active rules in the most recently loaded catalog snapshot.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vessel_notifier",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total admin HTTP requests, grouped by path and status.",
	}, []string{"path", "status"})
)

func init() {
	Registry.MustRegister(
		recordsConsumed,
		recordsCommitted,
		decodeErrors,
		ruleEvaluations,
		processingDuration,
		notificationsEmitted,
		discoveryCardinality,
		catalogRuleCount,
		httpRequests,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an http.Handler exposing the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with request-count instrumentation for
// the admin HTTP server.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequests.WithLabelValues(r.URL.Path, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RecordConsumed increments the consumed-records counter (C1).
func RecordConsumed() { recordsConsumed.Inc() }

// RecordCommitted increments the committed-records counter (C1).
func RecordCommitted() { recordsCommitted.Inc() }

// RecordDecodeError increments the decode-error counter (C1).
func RecordDecodeError() { decodeErrors.Inc() }

// RecordRuleEvaluation records one rule evaluation outcome (C5).
func RecordRuleEvaluation(evaluator, outcome string) {
	ruleEvaluations.WithLabelValues(evaluator, outcome).Inc()
}

// RecordProcessingDuration observes the per-record pipeline latency (C6).
func RecordProcessingDuration(d time.Duration) {
	processingDuration.Observe(d.Seconds())
}

// RecordNotificationEmitted increments the emitted-notifications counter (C7).
func RecordNotificationEmitted(typeID string) {
	notificationsEmitted.WithLabelValues(typeID).Inc()
}

// SetDiscoveryCardinalities publishes the current size of every
// discovery set (C2).
func SetDiscoveryCardinalities(counts map[string]int64) {
	for set, n := range counts {
		discoveryCardinality.WithLabelValues(set).Set(float64(n))
	}
}

// SetCatalogRuleCount publishes the active rule count of the most
// recent catalog snapshot (C4).
func SetCatalogRuleCount(n int) {
	catalogRuleCount.Set(float64(n))
}

// HostStats is a lightweight host resource snapshot for the /stats
// admin endpoint, gathered with shirou/gopsutil the way the teacher
// does for its own system-status surface.
type HostStats struct {
	CPUPercent  float64 `json:"cpuPercent"`
	MemUsedPct  float64 `json:"memUsedPercent"`
	MemUsedMB   uint64  `json:"memUsedMb"`
	MemTotalMB  uint64  `json:"memTotalMb"`
}

// CollectHostStats samples current CPU and memory utilization.
func CollectHostStats() (HostStats, error) {
	var stats HostStats

	cpuPercents, err := cpu.Percent(0, false)
	if err == nil && len(cpuPercents) > 0 {
		stats.CPUPercent = cpuPercents[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return stats, err
	}
	stats.MemUsedPct = vm.UsedPercent
	stats.MemUsedMB = vm.Used / (1024 * 1024)
	stats.MemTotalMB = vm.Total / (1024 * 1024)
	return stats, nil
}
