package graph

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/IanNoble-Visium/ELI-sub001/internal/data"
	"github.com/IanNoble-Visium/ELI-sub001/internal/metrics"
)

type Config struct {
	URI      string
	Username string
	Password string
}

// Runner executes one write query. Split out of Mirror so the merge logic
// can be driven against anything that speaks Cypher.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) error
}

type driverRunner struct {
	driver neo4j.DriverWithContext
}

func (r driverRunner) Run(ctx context.Context, cypher string, params map[string]any) error {
	_, err := neo4j.ExecuteQuery(ctx, r.driver, cypher, params, neo4j.EagerResultTransformer)
	return err
}

const mergeChannelCypher = `
MERGE (c:Channel {id: $id})
SET c.name = $name,
    c.type = $type,
    c.latitude = $latitude,
    c.longitude = $longitude,
    c.region = $region,
    c.status = $status,
    c.updated_at = datetime()`

const mergeEventCypher = `
MERGE (c:Channel {id: $channel_id})
MERGE (e:Event {id: $id})
SET e.topic = $topic,
    e.module = $module,
    e.level = $level,
    e.start_time = $start_time,
    e.image_url = $image_url,
    e.updated_at = datetime()
MERGE (c)-[r:CAPTURED]->(e)
SET r.image_url = $image_url`

// Mirror maintains the (:Channel)-[:CAPTURED]->(:Event) projection in Neo4j.
// Everything here is best effort: callers dispatch merges off the request
// path and only log failures.
type Mirror struct {
	runner Runner
	driver neo4j.DriverWithContext

	// Channels re-announce themselves with every event, so channel merges
	// within the TTL are suppressed. Events are never suppressed.
	recent *lru.Cache[string, time.Time]
	ttl    time.Duration
}

// NewMirror connects to Neo4j, or returns a disabled mirror when no URI is
// configured. Connectivity is not verified here: the graph store being down
// at boot must not stop ingest.
func NewMirror(cfg Config) (*Mirror, error) {
	m := newMirror(nil)
	if cfg.URI == "" {
		return m, nil
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	m.driver = driver
	m.runner = driverRunner{driver: driver}
	return m, nil
}

// NewMirrorWithRunner wires a custom query runner (tests, alternate stores).
func NewMirrorWithRunner(r Runner) *Mirror {
	return newMirror(r)
}

func newMirror(r Runner) *Mirror {
	cache, _ := lru.New[string, time.Time](10_000)
	return &Mirror{
		runner: r,
		recent: cache,
		ttl:    5 * time.Minute,
	}
}

func (m *Mirror) Enabled() bool {
	return m != nil && m.runner != nil
}

func (m *Mirror) Close(ctx context.Context) {
	if m != nil && m.driver != nil {
		_ = m.driver.Close(ctx)
	}
}

// MirrorChannel merges the channel node. Repeat merges for the same channel
// inside the TTL are skipped; a failed merge is not cached so the next event
// retries it.
func (m *Mirror) MirrorChannel(ctx context.Context, ch *data.Channel) error {
	if !m.Enabled() {
		return nil
	}

	if at, ok := m.recent.Get(ch.ID); ok && time.Since(at) < m.ttl {
		return nil
	}

	err := m.runner.Run(ctx, mergeChannelCypher, map[string]any{
		"id":        ch.ID,
		"name":      ch.Name,
		"type":      ch.ChannelType,
		"latitude":  floatOrNil(ch.Latitude),
		"longitude": floatOrNil(ch.Longitude),
		"region":    ch.Region,
		"status":    ch.Status,
	})
	if err != nil {
		metrics.GraphMergesTotal.WithLabelValues("channel", "failed").Inc()
		return err
	}

	m.recent.Add(ch.ID, time.Now())
	metrics.GraphMergesTotal.WithLabelValues("channel", "ok").Inc()
	return nil
}

// MirrorEvent merges the event node and its CAPTURED edge. The caller only
// invokes this when the event has at least one hosted image; imageURL is
// that first hosted URL.
func (m *Mirror) MirrorEvent(ctx context.Context, ev *data.Event, imageURL string) error {
	if !m.Enabled() {
		return nil
	}

	err := m.runner.Run(ctx, mergeEventCypher, map[string]any{
		"id":         ev.ID,
		"channel_id": ev.ChannelID,
		"topic":      ev.Topic,
		"module":     ev.Module,
		"level":      ev.Level,
		"start_time": ev.StartTime,
		"image_url":  imageURL,
	})
	if err != nil {
		metrics.GraphMergesTotal.WithLabelValues("event", "failed").Inc()
		return err
	}

	metrics.GraphMergesTotal.WithLabelValues("event", "ok").Inc()
	return nil
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
