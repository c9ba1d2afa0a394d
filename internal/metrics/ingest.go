package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WebhookBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eli_webhook_batches_total",
		Help: "Total webhook batches received, by source and outcome status",
	}, []string{"source", "status"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eli_webhook_events_total",
		Help: "Total events handled inside webhook batches",
	}, []string{"source", "outcome"})

	SnapshotDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eli_snapshot_decisions_total",
		Help: "Throttle decisions over snapshot images",
	}, []string{"decision"})

	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eli_snapshot_uploads_total",
		Help: "Image upload attempts against the hosting service",
	}, []string{"result"})

	GraphMergesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eli_graph_merges_total",
		Help: "Graph mirror merge operations",
	}, []string{"kind", "result"})

	FeedPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eli_feed_publish_total",
		Help: "Live feed publish attempts",
	}, []string{"result"})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eli_webhook_batch_duration_seconds",
		Help:    "Wall time spent processing one webhook batch",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	TaskQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eli_task_queue_depth",
		Help: "Queued background tasks awaiting a worker",
	})

	TasksDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eli_tasks_dropped_total",
		Help: "Background tasks dropped because the queue was full",
	}, []string{"task"})
)

// Handler exposes everything registered above for Prometheus scrapes.
func Handler() http.Handler {
	return promhttp.Handler()
}
