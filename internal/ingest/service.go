package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/IanNoble-Visium/ELI-sub001/internal/cloudinary"
	"github.com/IanNoble-Visium/ELI-sub001/internal/data"
	"github.com/IanNoble-Visium/ELI-sub001/internal/metrics"
	"github.com/IanNoble-Visium/ELI-sub001/internal/tasks"
	"github.com/IanNoble-Visium/ELI-sub001/internal/throttle"
)

type ChannelStore interface {
	Upsert(ctx context.Context, c *data.Channel) error
}

type EventStore interface {
	Upsert(ctx context.Context, e *data.Event) error
}

type SnapshotStore interface {
	Upsert(ctx context.Context, s *data.Snapshot) error
}

// Stores bundles the persistence models the pipeline writes through.
// A nil *Stores means no database was configured; the service then accepts
// events without persisting them.
type Stores struct {
	Channels  ChannelStore
	Events    EventStore
	Snapshots SnapshotStore
	Ping      func(ctx context.Context) error
}

type Uploader interface {
	Enabled() bool
	Upload(ctx context.Context, image, eventID, snapshotType string) cloudinary.UploadResult
}

type GraphMirror interface {
	Enabled() bool
	MirrorChannel(ctx context.Context, ch *data.Channel) error
	MirrorEvent(ctx context.Context, ev *data.Event, imageURL string) error
}

// Service runs the ingest pipeline for webhook batches: normalize, persist,
// admission-controlled image upload, then fire-and-forget graph and feed
// dispatch through the task pool.
type Service struct {
	stores   *Stores
	throttle *throttle.Throttle
	uploader Uploader
	mirror   GraphMirror
	feed     *FeedPublisher
	pool     *tasks.Pool
}

// NewService wires the pipeline. throttle and pool are required; stores,
// uploader, mirror and feed may be nil/disabled and degrade that stage.
func NewService(stores *Stores, th *throttle.Throttle, up Uploader, mirror GraphMirror, feed *FeedPublisher, pool *tasks.Pool) *Service {
	return &Service{
		stores:   stores,
		throttle: th,
		uploader: up,
		mirror:   mirror,
		feed:     feed,
		pool:     pool,
	}
}

// PersistenceEnabled reports whether a database was configured at boot.
func (s *Service) PersistenceEnabled() bool {
	return s.stores != nil
}

// BatchResult summarizes one webhook batch for the HTTP response and the
// audit row.
type BatchResult struct {
	Received     int
	Processed    int
	Errored      int
	Snapshots    int
	Persisted    bool
	FirstEventID string
	Message      string
}

// Status maps counts onto the wire status values.
func (r *BatchResult) Status() string {
	if r.Errored > 0 {
		return "partial"
	}
	return "success"
}

// ProcessBatch runs the pipeline over one decoded webhook batch. Events are
// processed sequentially; a failure in one event never aborts the rest.
func (s *Service) ProcessBatch(ctx context.Context, source string, rawEvents []json.RawMessage, receivedAt time.Time) *BatchResult {
	res := &BatchResult{
		Received:  len(rawEvents),
		Persisted: s.PersistenceEnabled(),
	}

	if s.stores == nil {
		res.Message = "database not configured, events accepted but not persisted"
	} else if s.stores.Ping != nil {
		if err := s.stores.Ping(ctx); err != nil {
			log.Printf("[WARN] Webhook (%s): database unavailable, accepting batch without persistence: %v", source, err)
			res.Persisted = false
			res.Message = "database unavailable, events accepted but not persisted"
		}
	}

	for _, raw := range rawEvents {
		eventID, snapshots, err := s.processOne(ctx, source, raw, receivedAt, res.Persisted)
		if err != nil {
			res.Errored++
			metrics.WebhookEventsTotal.WithLabelValues(source, "errored").Inc()
			log.Printf("[WARN] Webhook (%s): event skipped: %v", source, err)
			continue
		}
		res.Processed++
		res.Snapshots += snapshots
		metrics.WebhookEventsTotal.WithLabelValues(source, "processed").Inc()
		if res.FirstEventID == "" {
			res.FirstEventID = eventID
		}
	}

	return res
}

// processOne handles a single event. The deferred recover is the per-event
// guard: a panic skips this event, not the batch.
func (s *Service) processOne(ctx context.Context, source string, raw json.RawMessage, receivedAt time.Time, persist bool) (eventID string, snapshots int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event panic: %v", r)
		}
	}()

	var re RawEvent
	if err := json.Unmarshal(raw, &re); err != nil {
		return "", 0, fmt.Errorf("decode: %w", err)
	}

	ch, evt, snaps, err := re.Normalize(receivedAt)
	if err != nil {
		return "", 0, err
	}

	if !persist {
		// Accepted without persistence. Uploads, graph merges and the feed
		// all describe rows we did not write, so the whole tail is skipped.
		return evt.ID, len(snaps), nil
	}

	if err := s.stores.Channels.Upsert(ctx, ch); err != nil {
		return "", 0, fmt.Errorf("channel %s: %w", ch.ID, err)
	}
	if err := s.stores.Events.Upsert(ctx, evt); err != nil {
		return "", 0, fmt.Errorf("event %s: %w", evt.ID, err)
	}

	rows, uploadedURL, err := s.persistSnapshots(ctx, evt, snaps)
	if err != nil {
		return "", 0, err
	}

	s.dispatchMirror(ch, evt, uploadedURL)
	s.dispatchFeed(source, evt, rows, receivedAt)

	return evt.ID, len(rows), nil
}

// persistSnapshots runs admission, upload and upsert for each snapshot and
// returns the persisted rows plus the first hosted URL, if any upload
// succeeded. Only snapshots carrying inline image bytes go through
// admission; path-only entries persist as plain references.
func (s *Service) persistSnapshots(ctx context.Context, evt *data.Event, snaps []RawSnapshot) ([]*data.Snapshot, string, error) {
	var rows []*data.Snapshot
	uploadedURL := ""

	for i, snap := range snaps {
		row := &data.Snapshot{
			ID:       fmt.Sprintf("%s-%d", evt.ID, i),
			EventID:  evt.ID,
			Type:     snap.Type,
			Path:     snap.Path,
			ImageURL: snap.Path, // fallback until an upload succeeds
		}

		if snap.Image != "" {
			uploaded := false
			if s.throttle.Admit() {
				metrics.SnapshotDecisionsTotal.WithLabelValues("admitted").Inc()
				if s.uploader != nil && s.uploader.Enabled() {
					up := s.uploader.Upload(ctx, snap.Image, evt.ID, snap.Type)
					if up.OK {
						row.ImageURL = up.URL
						row.PublicID = up.PublicID
						uploaded = true
						if uploadedURL == "" {
							uploadedURL = up.URL
						}
						metrics.UploadsTotal.WithLabelValues("ok").Inc()
					} else {
						metrics.UploadsTotal.WithLabelValues("failed").Inc()
						log.Printf("[WARN] Upload (%s): %s, keeping source path", row.ID, up.Err)
					}
				}
			} else {
				metrics.SnapshotDecisionsTotal.WithLabelValues("skipped").Inc()
			}
			// Only a completed upload consumes hourly budget; admitted
			// images that failed to upload count as skipped.
			s.throttle.RecordDecision(uploaded)
		}

		if err := s.stores.Snapshots.Upsert(ctx, row); err != nil {
			return nil, "", fmt.Errorf("snapshot %s: %w", row.ID, err)
		}
		rows = append(rows, row)
	}

	return rows, uploadedURL, nil
}

// dispatchMirror queues the graph merges. Channel merges go out for every
// persisted event; event merges only when a snapshot was actually uploaded,
// so graph write volume tracks the admission ratio.
func (s *Service) dispatchMirror(ch *data.Channel, evt *data.Event, uploadedURL string) {
	if s.mirror == nil || !s.mirror.Enabled() {
		return
	}

	s.pool.Submit("graph_channel", func(ctx context.Context) error {
		return s.mirror.MirrorChannel(ctx, ch)
	})

	if uploadedURL == "" {
		return
	}
	s.pool.Submit("graph_event", func(ctx context.Context) error {
		return s.mirror.MirrorEvent(ctx, evt, uploadedURL)
	})
}

func (s *Service) dispatchFeed(source string, evt *data.Event, rows []*data.Snapshot, receivedAt time.Time) {
	if !s.feed.Enabled() {
		return
	}

	fe := &FeedEvent{
		Source:     source,
		Event:      evt,
		Snapshots:  rows,
		ReceivedAt: receivedAt,
	}
	s.pool.Submit("feed_publish", func(_ context.Context) error {
		if err := s.feed.Publish(fe); err != nil {
			metrics.FeedPublishTotal.WithLabelValues("failed").Inc()
			return err
		}
		metrics.FeedPublishTotal.WithLabelValues("ok").Inc()
		return nil
	})
}
