package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/IanNoble-Visium/ELI-sub001/internal/data"
)

// FeedEvent is the live-feed envelope published once an event has persisted,
// consumed by the dashboard/map services. It carries resolved snapshot rows
// (hosted URL or source path), never inline image bytes.
type FeedEvent struct {
	Source     string           `json:"source"`
	Event      *data.Event      `json:"event"`
	Snapshots  []*data.Snapshot `json:"snapshots,omitempty"`
	ReceivedAt time.Time        `json:"received_at"`
}

// FeedPublisher pushes FeedEvents to NATS. A nil publisher (no NATS_URL
// configured) silently publishes nothing.
type FeedPublisher struct {
	conn          *nats.Conn
	subjectPrefix string
	maxRetries    int
}

func NewFeedPublisher(conn *nats.Conn, subjectPrefix string, maxRetries int) *FeedPublisher {
	if subjectPrefix == "" {
		subjectPrefix = "eli.events"
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &FeedPublisher{
		conn:          conn,
		subjectPrefix: subjectPrefix,
		maxRetries:    maxRetries,
	}
}

func (p *FeedPublisher) Enabled() bool {
	return p != nil && p.conn != nil
}

func (p *FeedPublisher) Publish(evt *FeedEvent) error {
	if !p.Enabled() {
		return nil
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	subject := p.subjectPrefix + "." + subjectToken(evt.Source)
	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(subject, payload)
		if err == nil {
			return nil
		}

		// Backoff
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}

	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}

// subjectToken keeps the URL-supplied source from injecting NATS subject
// separators or wildcards.
func subjectToken(source string) string {
	if source == "" {
		return "unknown"
	}
	out := []byte(source)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
