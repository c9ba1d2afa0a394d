package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// WriteLog records one webhook delivery. Idempotent on id, append-only:
// no update or delete methods exist for this table.
//
// A DB failure is swallowed after spooling — the webhook response must never
// depend on audit storage health.
func (s *Service) WriteLog(ctx context.Context, rec WebhookLog) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if len(rec.PayloadShape) == 0 {
		rec.PayloadShape = json.RawMessage("{}")
	}

	query := `
		INSERT INTO webhook_logs (
			id, endpoint, method, payload_shape, status,
			first_event_id, error_text, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.DB.ExecContext(ctx, query,
		rec.ID, rec.Endpoint, rec.Method, []byte(rec.PayloadShape), rec.Status,
		rec.FirstEventID, rec.ErrorText, rec.DurationMs, rec.CreatedAt,
	)

	if err != nil {
		log.Printf("Audit DB Write Failed: %v. Spooling log %s", err, rec.ID)
		if spoolErr := SpoolLog(rec); spoolErr != nil {
			log.Printf("CRITICAL: Audit Spool FAILED for log %s: %v", rec.ID, spoolErr)
			return fmt.Errorf("audit critical failure: %v", spoolErr)
		}
		return nil
	}

	return nil
}
