package data

import (
	"context"
	"time"
)

// Snapshot is one image reference attached to an event. The id is derived
// from (event id, position in the snapshots array), so redelivered batches
// land on the same rows.
type Snapshot struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	Type      string    `json:"type"`
	Path      string    `json:"path,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	PublicID  string    `json:"public_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type SnapshotModel struct {
	DB DBTX
}

// Upsert writes a snapshot row. A row that already carries a hosted image
// (public_id set) keeps its image_url even when a redelivery was not admitted
// for upload; we never downgrade a hosted URL back to the source path.
func (m SnapshotModel) Upsert(ctx context.Context, s *Snapshot) error {
	query := `
		INSERT INTO snapshots (id, event_id, type, path, image_url, public_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			path = EXCLUDED.path,
			image_url = CASE
				WHEN snapshots.public_id IS NOT NULL AND EXCLUDED.public_id IS NULL
					THEN snapshots.image_url
				ELSE EXCLUDED.image_url
			END,
			public_id = COALESCE(EXCLUDED.public_id, snapshots.public_id)
		RETURNING image_url, COALESCE(public_id, ''), created_at`

	return m.DB.QueryRowContext(ctx, query,
		s.ID, s.EventID, s.Type, s.Path, s.ImageURL, s.PublicID,
	).Scan(&s.ImageURL, &s.PublicID, &s.CreatedAt)
}

func (m SnapshotModel) ListByEvent(ctx context.Context, eventID string) ([]*Snapshot, error) {
	query := `
		SELECT id, event_id, type, path, image_url, COALESCE(public_id, ''), created_at
		FROM snapshots
		WHERE event_id = $1
		ORDER BY id`

	rows, err := m.DB.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.ID, &s.EventID, &s.Type, &s.Path, &s.ImageURL, &s.PublicID, &s.CreatedAt); err != nil {
			return nil, err
		}
		snaps = append(snaps, &s)
	}
	return snaps, rows.Err()
}
