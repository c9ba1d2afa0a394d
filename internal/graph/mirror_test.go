package graph_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/IanNoble-Visium/ELI-sub001/internal/data"
	"github.com/IanNoble-Visium/ELI-sub001/internal/graph"
)

type fakeRunner struct {
	calls  []string
	params []map[string]any
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, cypher string, params map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, cypher)
	f.params = append(f.params, params)
	return nil
}

// 1. Channel merges are suppressed inside the TTL window
func TestMirrorChannel_Suppression(t *testing.T) {
	fr := &fakeRunner{}
	m := graph.NewMirrorWithRunner(fr)

	ch := &data.Channel{ID: "cam-100", Name: "North Gate", Status: "active"}

	for i := 0; i < 5; i++ {
		if err := m.MirrorChannel(context.Background(), ch); err != nil {
			t.Fatalf("merge %d failed: %v", i, err)
		}
	}

	if len(fr.calls) != 1 {
		t.Errorf("expected 1 merge, runner saw %d", len(fr.calls))
	}
}

// 2. A failed channel merge is retried on the next event
func TestMirrorChannel_FailureNotCached(t *testing.T) {
	fr := &fakeRunner{err: errors.New("neo4j down")}
	m := graph.NewMirrorWithRunner(fr)

	ch := &data.Channel{ID: "cam-100"}
	if err := m.MirrorChannel(context.Background(), ch); err == nil {
		t.Fatal("expected merge error")
	}

	fr.err = nil
	if err := m.MirrorChannel(context.Background(), ch); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if len(fr.calls) != 1 {
		t.Errorf("retry did not reach the store: %d calls", len(fr.calls))
	}
}

// 3. Event merges carry the hosted image URL on node and edge
func TestMirrorEvent_Params(t *testing.T) {
	fr := &fakeRunner{}
	m := graph.NewMirrorWithRunner(fr)

	ev := &data.Event{
		ID:        "evt-1",
		ChannelID: "cam-100",
		Topic:     "face.match",
		Level:     2,
		StartTime: 1700000000000,
	}
	url := "https://res.cloudinary.com/demo/irex/evt-1/alarm_1.jpg"

	if err := m.MirrorEvent(context.Background(), ev, url); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	if len(fr.calls) != 1 {
		t.Fatalf("runner saw %d calls", len(fr.calls))
	}
	if !strings.Contains(fr.calls[0], "MERGE (c)-[r:CAPTURED]->(e)") {
		t.Error("CAPTURED edge missing from cypher")
	}
	p := fr.params[0]
	if p["image_url"] != url {
		t.Errorf("image_url param = %v", p["image_url"])
	}
	if p["channel_id"] != "cam-100" || p["id"] != "evt-1" {
		t.Errorf("identity params wrong: %v", p)
	}
}

// 4. Events are never suppressed, even for the same channel
func TestMirrorEvent_NoSuppression(t *testing.T) {
	fr := &fakeRunner{}
	m := graph.NewMirrorWithRunner(fr)

	ev := &data.Event{ID: "evt-1", ChannelID: "cam-100"}
	m.MirrorEvent(context.Background(), ev, "u1")
	m.MirrorEvent(context.Background(), ev, "u2")

	if len(fr.calls) != 2 {
		t.Errorf("expected 2 merges, got %d", len(fr.calls))
	}
}

// 5. Disabled mirror no-ops
func TestMirror_Disabled(t *testing.T) {
	m, err := graph.NewMirror(graph.Config{})
	if err != nil {
		t.Fatalf("NewMirror: %v", err)
	}
	if m.Enabled() {
		t.Fatal("empty config reported enabled")
	}
	if err := m.MirrorChannel(context.Background(), &data.Channel{ID: "x"}); err != nil {
		t.Errorf("disabled MirrorChannel returned %v", err)
	}
	if err := m.MirrorEvent(context.Background(), &data.Event{ID: "y"}, ""); err != nil {
		t.Errorf("disabled MirrorEvent returned %v", err)
	}
}

// 6. Missing coordinates travel as nulls, not zeroes
func TestMirrorChannel_NilCoordinates(t *testing.T) {
	fr := &fakeRunner{}
	m := graph.NewMirrorWithRunner(fr)

	m.MirrorChannel(context.Background(), &data.Channel{ID: "cam-200"})

	p := fr.params[0]
	if p["latitude"] != nil || p["longitude"] != nil {
		t.Errorf("unset coordinates not null: lat=%v lon=%v", p["latitude"], p["longitude"])
	}
}
