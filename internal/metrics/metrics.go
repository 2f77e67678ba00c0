// Package metrics provides Prometheus metrics for timeindex
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for timeindex. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// Index metrics
	IndexOperationsTotal   *prometheus.CounterVec
	IndexOperationDuration *prometheus.HistogramVec
	ItemsAppendedTotal     *prometheus.CounterVec
	OpenIndexes            prometheus.Gauge
	OpenViews              prometheus.Gauge
	RealClosesTotal        prometheus.Counter

	// Locate metrics
	LocateTotal      *prometheus.CounterVec
	LocateMemoHits   prometheus.Counter
	LocateMemoMisses prometheus.Counter

	// Cache metrics
	CacheLoadsTotal  prometheus.Counter
	CacheHollowTotal prometheus.Counter

	ServerStartTime time.Time
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// means the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	// gRPC request metrics
	m.GrpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeindex_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "timeindex_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "timeindex_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	// Index metrics
	m.IndexOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeindex_index_operations_total",
			Help: "Total number of index lifecycle and storage operations",
		},
		[]string{"operation", "status"},
	)

	m.IndexOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "timeindex_index_operation_duration_seconds",
			Help:    "Duration of index operations in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"operation"},
	)

	m.ItemsAppendedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeindex_items_appended_total",
			Help: "Total number of items appended, by index type",
		},
		[]string{"type"},
	)

	m.OpenIndexes = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "timeindex_open_indexes",
			Help: "Number of index cores registered in the directory",
		},
	)

	m.OpenViews = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "timeindex_open_views",
			Help: "Number of live view handles across all indexes",
		},
	)

	m.RealClosesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "timeindex_real_closes_total",
			Help: "Total number of cores closed after their last handle went away",
		},
	)

	// Locate metrics
	m.LocateTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeindex_locate_total",
			Help: "Total number of timestamp lookups, by outcome",
		},
		[]string{"outcome"},
	)

	m.LocateMemoHits = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "timeindex_locate_memo_hits_total",
			Help: "Binary search probes answered from the memo tree",
		},
	)

	m.LocateMemoMisses = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "timeindex_locate_memo_misses_total",
			Help: "Binary search probes that went to the cache",
		},
	)

	// Cache metrics
	m.CacheLoadsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "timeindex_cache_loads_total",
			Help: "Items loaded from storage into the cache",
		},
	)

	m.CacheHollowTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "timeindex_cache_hollowed_total",
			Help: "Payloads dropped from the cache by eviction policies",
		},
	)

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "timeindex_uptime_seconds",
			Help: "Time since metrics were created, in seconds",
		},
		func() float64 { return time.Since(m.ServerStartTime).Seconds() },
	)

	return m
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordIndexOperation records an index operation
func (m *Metrics) RecordIndexOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.IndexOperationsTotal.WithLabelValues(operation, status).Inc()
	m.IndexOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAppend counts an appended item
func (m *Metrics) RecordAppend(indexType string) {
	if m == nil {
		return
	}
	m.ItemsAppendedTotal.WithLabelValues(indexType).Inc()
}

// RecordLocate counts a lookup by outcome: found, too_low, too_high
func (m *Metrics) RecordLocate(outcome string) {
	if m == nil {
		return
	}
	m.LocateTotal.WithLabelValues(outcome).Inc()
}

// RecordMemo counts one binary search probe
func (m *Metrics) RecordMemo(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.LocateMemoHits.Inc()
	} else {
		m.LocateMemoMisses.Inc()
	}
}

// RecordCacheLoad counts an item loaded from storage
func (m *Metrics) RecordCacheLoad() {
	if m == nil {
		return
	}
	m.CacheLoadsTotal.Inc()
}

// RecordHollow counts a payload dropped by eviction
func (m *Metrics) RecordHollow() {
	if m == nil {
		return
	}
	m.CacheHollowTotal.Inc()
}

// IndexOpened adjusts the open index gauge
func (m *Metrics) IndexOpened(delta int) {
	if m == nil {
		return
	}
	m.OpenIndexes.Add(float64(delta))
}

// ViewsChanged adjusts the open view gauge
func (m *Metrics) ViewsChanged(delta int) {
	if m == nil {
		return
	}
	m.OpenViews.Add(float64(delta))
}

// RecordRealClose counts a core closed for real
func (m *Metrics) RecordRealClose() {
	if m == nil {
		return
	}
	m.RealClosesTotal.Inc()
}
