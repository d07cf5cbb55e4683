package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/karczex-2nd/pmemstream/pkg/metrics"
)

func init() {
	metrics.RegisterStreamMetricsConstructor(newPrometheusStreamMetrics)
}

// streamMetrics is the Prometheus implementation of metrics.StreamMetrics.
type streamMetrics struct {
	appendOperations prometheus.Counter
	appendDuration   prometheus.Histogram
	appendBytes      prometheus.Histogram
	appendRetries    prometheus.Counter
	persistOperations prometheus.Counter
	persistDuration  prometheus.Histogram
	persistAdvanced  prometheus.Counter
	ringDepth        prometheus.Gauge
	persistedLag     prometheus.Gauge
	allocatorFree    prometheus.Gauge
	regionCount      prometheus.Gauge
	recoveryState    *prometheus.CounterVec
	tornWrites       prometheus.Counter
}

func newPrometheusStreamMetrics() metrics.StreamMetrics {
	reg := metrics.GetRegistry()

	return &streamMetrics{
		appendOperations: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pmemstream_append_operations_total",
			Help: "Total number of completed Append calls.",
		}),
		appendDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "pmemstream_append_duration_milliseconds",
			Help: "Duration of Append calls in milliseconds, including ring-full retry spin.",
			Buckets: []float64{
				0.01, 0.05, 0.1, 0.5, 1, 5, 10, 50, 100,
			},
		}),
		appendBytes: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "pmemstream_append_bytes",
			Help: "Distribution of Append payload sizes in bytes.",
			Buckets: []float64{
				64, 256, 1024, 4096, 16384, 65536, 262144, 1048576,
			},
		}),
		appendRetries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pmemstream_append_retries_total",
			Help: "Total number of ring-full retry iterations inside Append.",
		}),
		persistOperations: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pmemstream_persist_operations_total",
			Help: "Total number of completed Persist calls.",
		}),
		persistDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "pmemstream_persist_duration_milliseconds",
			Help: "Duration of Persist calls in milliseconds.",
			Buckets: []float64{
				0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000,
			},
		}),
		persistAdvanced: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pmemstream_persisted_timestamp_advanced_total",
			Help: "Total number of timestamp slots moved past persisted_timestamp.",
		}),
		ringDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pmemstream_ring_depth",
			Help: "Reservations currently outstanding between committed and persisted timestamps.",
		}),
		persistedLag: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pmemstream_persisted_lag",
			Help: "committed_timestamp minus persisted_timestamp.",
		}),
		allocatorFree: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pmemstream_allocator_free_bytes",
			Help: "Bytes currently on the region allocator's free list.",
		}),
		regionCount: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pmemstream_region_count",
			Help: "Number of live regions.",
		}),
		recoveryState: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pmemstream_recovery_state_transitions_total",
			Help: "Region recovery state transitions by resulting state.",
		}, []string{"state"}),
		tornWrites: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pmemstream_torn_writes_total",
			Help: "Torn writes detected during recovery.",
		}),
	}
}

func (m *streamMetrics) ObserveAppend(bytes int, duration time.Duration) {
	if m == nil {
		return
	}
	m.appendOperations.Inc()
	m.appendDuration.Observe(float64(duration.Microseconds()) / 1000)
	m.appendBytes.Observe(float64(bytes))
}

func (m *streamMetrics) RecordAppendRetry() {
	if m == nil {
		return
	}
	m.appendRetries.Inc()
}

func (m *streamMetrics) ObservePersist(duration time.Duration, advanced uint64) {
	if m == nil {
		return
	}
	m.persistOperations.Inc()
	m.persistDuration.Observe(float64(duration.Microseconds()) / 1000)
	m.persistAdvanced.Add(float64(advanced))
}

func (m *streamMetrics) RecordRingDepth(depth uint64) {
	if m == nil {
		return
	}
	m.ringDepth.Set(float64(depth))
}

func (m *streamMetrics) RecordPersistedLag(lag uint64) {
	if m == nil {
		return
	}
	m.persistedLag.Set(float64(lag))
}

func (m *streamMetrics) RecordAllocatorFreeBytes(bytes uint64) {
	if m == nil {
		return
	}
	m.allocatorFree.Set(float64(bytes))
}

func (m *streamMetrics) RecordRegionCount(count int) {
	if m == nil {
		return
	}
	m.regionCount.Set(float64(count))
}

func (m *streamMetrics) RecordRecoveryState(state string) {
	if m == nil {
		return
	}
	m.recoveryState.WithLabelValues(state).Inc()
}

func (m *streamMetrics) RecordTornWrite() {
	if m == nil {
		return
	}
	m.tornWrites.Inc()
}
