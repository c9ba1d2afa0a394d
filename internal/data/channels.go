package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// Channel represents an IREX camera (channel) as reported inside webhook events.
type Channel struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ChannelType string    `json:"channel_type,omitempty"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	Address     Address   `json:"address"`
	Tags        []string  `json:"tags"`
	Status      string    `json:"status"` // active|inactive|alert, set by ops tooling after insert
	Region      string    `json:"region,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ChannelModel struct {
	DB DBTX
}

// Upsert inserts or refreshes a channel keyed by its upstream id.
// ON CONFLICT the descriptive columns follow the payload but status is left
// alone: status transitions belong to ops tooling, not to event traffic.
func (m ChannelModel) Upsert(ctx context.Context, c *Channel) error {
	if c.Status == "" {
		c.Status = "active"
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}

	addr, err := json.Marshal(c.Address)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO channels (id, name, channel_type, latitude, longitude, address, tags, status, region)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			channel_type = EXCLUDED.channel_type,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			address = EXCLUDED.address,
			tags = EXCLUDED.tags,
			region = EXCLUDED.region,
			updated_at = NOW()
		RETURNING status, created_at, updated_at`

	return m.DB.QueryRowContext(ctx, query,
		c.ID, c.Name, c.ChannelType, c.Latitude, c.Longitude,
		addr, pq.Array(c.Tags), c.Status, c.Region,
	).Scan(&c.Status, &c.CreatedAt, &c.UpdatedAt)
}

func (m ChannelModel) GetByID(ctx context.Context, id string) (*Channel, error) {
	query := `
		SELECT id, name, channel_type, latitude, longitude, address, tags, status, region, created_at, updated_at
		FROM channels
		WHERE id = $1`

	var c Channel
	var lat, lon sql.NullFloat64
	var addr []byte
	var tags []string

	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.ChannelType, &lat, &lon,
		&addr, pq.Array(&tags), &c.Status, &c.Region, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	if lat.Valid {
		c.Latitude = &lat.Float64
	}
	if lon.Valid {
		c.Longitude = &lon.Float64
	}
	if len(addr) > 0 {
		_ = json.Unmarshal(addr, &c.Address)
	}
	c.Tags = tags
	return &c, nil
}
