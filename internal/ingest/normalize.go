package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/IanNoble-Visium/ELI-sub001/internal/data"
)

// Validation failures skip the single event, never the batch.
var (
	ErrMissingEventID = errors.New("event missing id")
	ErrMissingChannel = errors.New("event missing channel id")
)

// looseString accepts a JSON string or a bare number. IREX sources are not
// consistent about quoting identifiers.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	*s = looseString(b)
	return nil
}

// looseInt64 accepts a JSON number or a numeric string, including the
// scientific notation some upstream serializers emit for epoch millis.
type looseInt64 int64

func (n *looseInt64) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			*n = 0
			return nil
		}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	*n = looseInt64(int64(f))
	return nil
}

// RawSnapshot is one snapshot entry as delivered on the wire.
type RawSnapshot struct {
	Type  string `json:"type"`
	Path  string `json:"path"`
	Image string `json:"image"` // base64 payload or data URI, optional
}

// RawChannel is the nested channel object variant of the payload.
type RawChannel struct {
	ID          looseString   `json:"id"`
	Name        string        `json:"name"`
	ChannelType string        `json:"channel_type"`
	Latitude    *float64      `json:"latitude"`
	Longitude   *float64      `json:"longitude"`
	Address     *data.Address `json:"address"`
	Tags        []string      `json:"tags"`
}

// RawEvent mirrors the inbound IREX event shape. The same fact can arrive
// either on a nested channel object or as flat channel_* fields depending on
// the source module; Normalize resolves each alias chain exactly once so the
// rest of the pipeline only ever sees the strict structs.
type RawEvent struct {
	ID        looseString `json:"id"`
	EventID   looseString `json:"event_id"`
	MonitorID looseString `json:"monitor_id"`
	Topic     string      `json:"topic"`
	Module    string      `json:"module"`
	Level     looseInt64  `json:"level"`
	StartTime looseInt64  `json:"start_time"`
	EndTime   *looseInt64 `json:"end_time"`

	Channel     *RawChannel   `json:"channel"`
	ChannelID   looseString   `json:"channel_id"`
	ChannelName string        `json:"channel_name"`
	ChannelType string        `json:"channel_type"`
	Latitude    *float64      `json:"latitude"`
	Longitude   *float64      `json:"longitude"`
	Address     *data.Address `json:"address"`
	ChannelTags []string      `json:"channel_tags"`

	Params    json.RawMessage `json:"params"`
	Tags      []string        `json:"tags"`
	Snapshots []RawSnapshot   `json:"snapshots"`
}

// Normalize validates the raw event and produces the channel and event rows
// to persist, plus the snapshot entries still needing admission/upload.
// receivedAt stands in for a missing start_time.
func (re *RawEvent) Normalize(receivedAt time.Time) (*data.Channel, *data.Event, []RawSnapshot, error) {
	if re.ID == "" {
		return nil, nil, nil, ErrMissingEventID
	}

	ch := &data.Channel{
		ID:          string(re.ChannelID),
		Name:        re.ChannelName,
		ChannelType: re.ChannelType,
		Latitude:    re.Latitude,
		Longitude:   re.Longitude,
		Tags:        re.ChannelTags,
	}
	if re.Address != nil {
		ch.Address = *re.Address
	}
	// The nested channel object wins over the flat aliases.
	if re.Channel != nil {
		if re.Channel.ID != "" {
			ch.ID = string(re.Channel.ID)
		}
		if re.Channel.Name != "" {
			ch.Name = re.Channel.Name
		}
		if re.Channel.ChannelType != "" {
			ch.ChannelType = re.Channel.ChannelType
		}
		if re.Channel.Latitude != nil {
			ch.Latitude = re.Channel.Latitude
		}
		if re.Channel.Longitude != nil {
			ch.Longitude = re.Channel.Longitude
		}
		if re.Channel.Address != nil {
			ch.Address = *re.Channel.Address
		}
		if re.Channel.Tags != nil {
			ch.Tags = re.Channel.Tags
		}
	}
	if ch.ID == "" {
		return nil, nil, nil, ErrMissingChannel
	}
	ch.Region = ch.Address.TopRegion()

	startTime := int64(re.StartTime)
	if startTime == 0 {
		startTime = receivedAt.UnixMilli()
	}
	var endTime *int64
	if re.EndTime != nil {
		v := int64(*re.EndTime)
		endTime = &v
	}

	level := int(re.Level)
	if level < 0 {
		level = 0
	}
	if level > 3 {
		level = 3
	}

	evt := &data.Event{
		ID:          string(re.ID),
		EventID:     string(re.EventID),
		MonitorID:   string(re.MonitorID),
		Topic:       re.Topic,
		Module:      re.Module,
		Level:       level,
		StartTime:   startTime,
		EndTime:     endTime,
		ChannelID:   ch.ID,
		ChannelType: ch.ChannelType,
		ChannelName: ch.Name,
		Address:     ch.Address,
		Latitude:    ch.Latitude,
		Longitude:   ch.Longitude,
		Params:      re.Params,
		Tags:        re.Tags,
	}

	// Drop structurally empty snapshot entries; keep anything carrying a
	// path or inline image.
	snaps := make([]RawSnapshot, 0, len(re.Snapshots))
	for _, s := range re.Snapshots {
		if s.Path == "" && s.Image == "" {
			continue
		}
		snaps = append(snaps, s)
	}

	return ch, evt, snaps, nil
}
