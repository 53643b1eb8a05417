package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xuecangming/transfer-queue/internal/common/types"
)

const namespace = "transfer_queue"

// StatsSource produces a queue-wide statistics snapshot
type StatsSource interface {
	Statistics() types.Statistics
}

// Metrics exposes queue state to Prometheus. Gauges are computed from a
// fresh statistics snapshot on every scrape; counters are driven by events.
type Metrics struct {
	source StatsSource

	events      *prometheus.CounterVec
	retries     prometheus.Counter
	transferred prometheus.Counter
	duration    *prometheus.HistogramVec

	operationsDesc *prometheus.Desc
	speedDesc      *prometheus.Desc
	bytesDesc      *prometheus.Desc
	etaDesc        *prometheus.Desc
}

// New creates the collectors for source
func New(source StatsSource) *Metrics {
	return &Metrics{
		source: source,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Count of published queue events, labeled by event type.",
		}, []string{"event"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Count of failed attempts that were requeued for another try.",
		}),
		transferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completed_bytes_total",
			Help:      "Total bytes of operations that completed successfully.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time from the last start to the outcome of an operation, labeled by type and final status.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"type", "status"}),
		operationsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "operations"),
			"Current number of operations, labeled by status.",
			[]string{"status"}, nil,
		),
		speedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "speed_bytes_per_second"),
			"Aggregate throughput of running operations.",
			nil, nil,
		),
		bytesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "bytes"),
			"Bytes across all operations, labeled total or processed.",
			[]string{"kind"}, nil,
		),
		etaDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "eta_seconds"),
			"Estimated seconds until the queue drains, absent while idle.",
			nil, nil,
		),
	}
}

// MustRegister registers every collector
func (m *Metrics) MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(m, m.events, m.retries, m.transferred, m.duration)
}

// Describe implements prometheus.Collector for the snapshot gauges
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.operationsDesc
	ch <- m.speedDesc
	ch <- m.bytesDesc
	ch <- m.etaDesc
}

// Collect implements prometheus.Collector for the snapshot gauges
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	stats := m.source.Statistics()

	// "pending" covers both pending and queued operations.
	counts := map[string]int{
		string(types.StatusPending):   stats.PendingCount,
		string(types.StatusRunning):   stats.RunningCount,
		string(types.StatusPaused):    stats.PausedCount,
		string(types.StatusCompleted): stats.CompletedCount,
		string(types.StatusFailed):    stats.FailedCount,
		string(types.StatusCancelled): stats.CancelledCount,
	}
	for status, n := range counts {
		ch <- prometheus.MustNewConstMetric(m.operationsDesc, prometheus.GaugeValue, float64(n), status)
	}

	ch <- prometheus.MustNewConstMetric(m.speedDesc, prometheus.GaugeValue, stats.CurrentSpeed)
	ch <- prometheus.MustNewConstMetric(m.bytesDesc, prometheus.GaugeValue, float64(stats.TotalBytes), "total")
	ch <- prometheus.MustNewConstMetric(m.bytesDesc, prometheus.GaugeValue, float64(stats.ProcessedBytes), "processed")
	if stats.EstimatedTimeRemaining != nil {
		ch <- prometheus.MustNewConstMetric(m.etaDesc, prometheus.GaugeValue, stats.EstimatedTimeRemaining.Seconds())
	}
}

// HandleEvent updates the event-driven counters. It is meant to be passed
// to the event notifier as a subscriber.
func (m *Metrics) HandleEvent(evt types.Event) {
	m.events.WithLabelValues(string(evt.Type)).Inc()

	op := evt.Operation
	if op == nil {
		return
	}

	switch evt.Type {
	case types.EventOperationFailed:
		if op.Status == types.StatusQueued {
			m.retries.Inc()
			return
		}
	case types.EventOperationCompleted:
		m.transferred.Add(float64(op.ProcessedBytes))
	case types.EventOperationCancelled:
	default:
		return
	}

	if op.StartedAt != nil && op.CompletedAt != nil {
		m.duration.WithLabelValues(string(op.Type), string(op.Status)).
			Observe(op.CompletedAt.Sub(*op.StartedAt).Seconds())
	}
}
