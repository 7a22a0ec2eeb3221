package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	IssuesPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quillpost_issues_published_total",
			Help: "Total number of newsletter issues accepted for delivery.",
		},
	)

	DuplicateSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quillpost_duplicate_submissions_total",
			Help: "Publish requests deduplicated by the idempotency store.",
		},
		[]string{"kind"}, // replayed, concurrent
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quillpost_deliveries_total",
			Help: "Total number of delivery attempts by outcome.",
		},
		[]string{"outcome"}, // delivered, retried, quarantined
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quillpost_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // http_5xx, network, other
	)

	QuarantinedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quillpost_quarantined_total",
			Help: "Total number of tasks quarantined by reason.",
		},
		[]string{"reason"}, // permanent, exhausted, bad_recipient
	)

	SendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quillpost_send_latency_seconds",
			Help:    "Latency of outbound email provider calls.",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quillpost_queue_depth",
			Help: "Number of delivery tasks by status.",
		},
		[]string{"status"},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		IssuesPublishedTotal,
		DuplicateSubmissionsTotal,
		DeliveriesTotal,
		RetriesTotal,
		QuarantinedTotal,
		SendLatency,
		QueueDepth,
	)
}

func RecordPublish() {
	IssuesPublishedTotal.Inc()
}

func RecordDuplicate(kind string) {
	DuplicateSubmissionsTotal.WithLabelValues(kind).Inc()
}

func RecordDelivery(outcome string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(outcome).Inc()
	if latency > 0 {
		SendLatency.Observe(latency.Seconds())
	}
}

func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

func RecordQuarantine(reason string) {
	QuarantinedTotal.WithLabelValues(reason).Inc()
}

func UpdateQueueDepth(status string, n float64) {
	QueueDepth.WithLabelValues(status).Set(n)
}
