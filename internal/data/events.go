package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// Event is one analytic detection delivered by the IREX webhook.
// The upstream payload id is the primary key; event_id/monitor_id are kept as
// plain attributes (they reference IREX-side modules, not our rows).
type Event struct {
	ID          string          `json:"id"`
	EventID     string          `json:"event_id,omitempty"`
	MonitorID   string          `json:"monitor_id,omitempty"`
	Topic       string          `json:"topic"`
	Module      string          `json:"module,omitempty"`
	Level       int             `json:"level"`
	StartTime   int64           `json:"start_time"` // epoch millis
	EndTime     *int64          `json:"end_time,omitempty"`
	ChannelID   string          `json:"channel_id"`
	ChannelType string          `json:"channel_type,omitempty"`
	ChannelName string          `json:"channel_name,omitempty"`
	Address     Address         `json:"address"`
	Latitude    *float64        `json:"latitude,omitempty"`
	Longitude   *float64        `json:"longitude,omitempty"`
	Params      json.RawMessage `json:"params,omitempty"`
	Tags        []string        `json:"tags"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type EventModel struct {
	DB DBTX
}

// Upsert inserts or refreshes an event keyed by the upstream id. Redelivery
// of the same id must not duplicate the row and must not move created_at;
// ON CONFLICT leaves created_at to the original insert and bumps updated_at.
func (m EventModel) Upsert(ctx context.Context, e *Event) error {
	if e.Tags == nil {
		e.Tags = []string{}
	}
	if len(e.Params) == 0 {
		e.Params = json.RawMessage("{}")
	}

	addr, err := json.Marshal(e.Address)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO events (
			id, event_id, monitor_id, topic, module, level,
			start_time, end_time, channel_id, channel_type, channel_name,
			address, latitude, longitude, params, tags
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			event_id = EXCLUDED.event_id,
			monitor_id = EXCLUDED.monitor_id,
			topic = EXCLUDED.topic,
			module = EXCLUDED.module,
			level = EXCLUDED.level,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			channel_id = EXCLUDED.channel_id,
			channel_type = EXCLUDED.channel_type,
			channel_name = EXCLUDED.channel_name,
			address = EXCLUDED.address,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			params = EXCLUDED.params,
			tags = EXCLUDED.tags,
			updated_at = NOW()
		RETURNING created_at, updated_at`

	return m.DB.QueryRowContext(ctx, query,
		e.ID, e.EventID, e.MonitorID, e.Topic, e.Module, e.Level,
		e.StartTime, e.EndTime, e.ChannelID, e.ChannelType, e.ChannelName,
		addr, e.Latitude, e.Longitude, []byte(e.Params), pq.Array(e.Tags),
	).Scan(&e.CreatedAt, &e.UpdatedAt)
}

func (m EventModel) GetByID(ctx context.Context, id string) (*Event, error) {
	query := `
		SELECT id, event_id, monitor_id, topic, module, level,
		       start_time, end_time, channel_id, channel_type, channel_name,
		       address, latitude, longitude, params, tags, created_at, updated_at
		FROM events
		WHERE id = $1`

	var e Event
	var endTime sql.NullInt64
	var lat, lon sql.NullFloat64
	var addr, params []byte
	var tags []string

	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.EventID, &e.MonitorID, &e.Topic, &e.Module, &e.Level,
		&e.StartTime, &endTime, &e.ChannelID, &e.ChannelType, &e.ChannelName,
		&addr, &lat, &lon, &params, pq.Array(&tags), &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	if endTime.Valid {
		e.EndTime = &endTime.Int64
	}
	if lat.Valid {
		e.Latitude = &lat.Float64
	}
	if lon.Valid {
		e.Longitude = &lon.Float64
	}
	if len(addr) > 0 {
		_ = json.Unmarshal(addr, &e.Address)
	}
	e.Params = params
	e.Tags = tags
	return &e, nil
}
