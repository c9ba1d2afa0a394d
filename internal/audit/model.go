package audit

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WebhookLog is one delivery record: exactly one row per received batch,
// success or failure. payload_shape holds counts only — raw event payloads
// never land in the audit table.
type WebhookLog struct {
	ID           uuid.UUID       `json:"id"`
	Endpoint     string          `json:"endpoint"`
	Method       string          `json:"method"`
	PayloadShape json.RawMessage `json:"payload_shape,omitempty"`
	Status       string          `json:"status"` // success/partial/error
	FirstEventID string          `json:"first_event_id,omitempty"`
	ErrorText    string          `json:"error_text,omitempty"`
	DurationMs   int64           `json:"duration_ms"`
	CreatedAt    time.Time       `json:"created_at"`
}

// FailoverRecord wrapper for JSONL spooling
type FailoverRecord struct {
	LogID     string     `json:"log_id"`
	Payload   WebhookLog `json:"payload"`
	Timestamp time.Time  `json:"timestamp"`
}

type Service struct {
	DB *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{DB: db}
}

// Shape builds the payload_shape blob from batch counts.
func Shape(events, snapshots int, batch bool) json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"events":    events,
		"snapshots": snapshots,
		"batch":     batch,
	})
	return b
}
