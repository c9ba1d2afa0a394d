package metrics

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/IanNoble-Visium/ELI-sub001/internal/throttle"
)

// BatchStats is the per-batch outcome handed to Emit after each webhook.
type BatchStats struct {
	Source     string
	Received   int
	Processed  int
	Errored    int
	DurationMs int64
}

// Emitter pushes a throttle/batch snapshot to a Prometheus Pushgateway after
// each batch. Scrape metrics above cover the pull side; the push side exists
// for deployments where the ingest process sits behind NAT and cannot be
// scraped. Unconfigured (empty URL) means Emit is a no-op.
type Emitter struct {
	url      string
	job      string
	instance string
	throttle *throttle.Throttle
	client   *http.Client

	mu  sync.Mutex
	reg *prometheus.Registry

	totalReceived     prometheus.Gauge
	totalProcessed    prometheus.Gauge
	totalSkipped      prometheus.Gauge
	hourReceived      prometheus.Gauge
	hourProcessed     prometheus.Gauge
	hourSkipped       prometheus.Gauge
	batchReceived     prometheus.Gauge
	batchProcessed    prometheus.Gauge
	batchErrored      prometheus.Gauge
	batchDurationMs   prometheus.Gauge
	lastBatchUnixTime prometheus.Gauge
}

func NewEmitter(gatewayURL string, t *throttle.Throttle) *Emitter {
	host, _ := os.Hostname()
	if host == "" {
		host = "unknown"
	}

	e := &Emitter{
		url:      gatewayURL,
		job:      "eli_ingest",
		instance: host,
		throttle: t,
		client:   &http.Client{Timeout: 10 * time.Second},
		reg:      prometheus.NewRegistry(),
	}

	mk := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
		e.reg.MustRegister(g)
		return g
	}

	e.totalReceived = mk("eli_throttle_total_received", "Images seen since process start")
	e.totalProcessed = mk("eli_throttle_total_processed", "Images uploaded since process start")
	e.totalSkipped = mk("eli_throttle_total_skipped", "Images skipped since process start")
	e.hourReceived = mk("eli_throttle_last_hour_received", "Images seen in the rolling hour")
	e.hourProcessed = mk("eli_throttle_last_hour_processed", "Images uploaded in the rolling hour")
	e.hourSkipped = mk("eli_throttle_last_hour_skipped", "Images skipped in the rolling hour")
	e.batchReceived = mk("eli_batch_events_received", "Events in the last webhook batch")
	e.batchProcessed = mk("eli_batch_events_processed", "Events processed in the last webhook batch")
	e.batchErrored = mk("eli_batch_events_errored", "Events errored in the last webhook batch")
	e.batchDurationMs = mk("eli_batch_duration_ms", "Processing time of the last webhook batch")
	e.lastBatchUnixTime = mk("eli_last_batch_timestamp_seconds", "Unix time of the last webhook batch")

	return e
}

func (e *Emitter) Enabled() bool {
	return e != nil && e.url != ""
}

// Emit snapshots the throttle and the batch outcome, then POSTs the group
// to the gateway. Add (not Push) so concurrent instances under the same job
// do not wipe each other's series.
func (e *Emitter) Emit(ctx context.Context, b BatchStats) error {
	if !e.Enabled() {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.throttle.Stats()
	e.totalReceived.Set(float64(s.TotalReceived))
	e.totalProcessed.Set(float64(s.TotalProcessed))
	e.totalSkipped.Set(float64(s.TotalSkipped))
	e.hourReceived.Set(float64(s.LastHourReceived))
	e.hourProcessed.Set(float64(s.LastHourProcessed))
	e.hourSkipped.Set(float64(s.LastHourSkipped))
	e.batchReceived.Set(float64(b.Received))
	e.batchProcessed.Set(float64(b.Processed))
	e.batchErrored.Set(float64(b.Errored))
	e.batchDurationMs.Set(float64(b.DurationMs))
	e.lastBatchUnixTime.SetToCurrentTime()

	pusher := push.New(e.url, e.job).
		Gatherer(e.reg).
		Grouping("instance", e.instance).
		Client(e.client)
	if b.Source != "" {
		pusher = pusher.Grouping("source", b.Source)
	}

	return pusher.AddContext(ctx)
}
