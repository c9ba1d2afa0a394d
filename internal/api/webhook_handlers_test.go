package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/IanNoble-Visium/ELI-sub001/internal/api"
	"github.com/IanNoble-Visium/ELI-sub001/internal/audit"
	"github.com/IanNoble-Visium/ELI-sub001/internal/ingest"
	"github.com/IanNoble-Visium/ELI-sub001/internal/metrics"
	"github.com/IanNoble-Visium/ELI-sub001/internal/tasks"
	"github.com/IanNoble-Visium/ELI-sub001/internal/throttle"
)

// Mock Auditor
type recordingAuditor struct {
	logs []audit.WebhookLog
}

func (a *recordingAuditor) WriteLog(_ context.Context, rec audit.WebhookLog) error {
	a.logs = append(a.logs, rec)
	return nil
}

func okStores() *ingest.Stores {
	chStore := new(ingest.MockChannelStore)
	evStore := new(ingest.MockEventStore)
	snStore := new(ingest.MockSnapshotStore)
	chStore.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	evStore.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	snStore.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	return &ingest.Stores{Channels: chStore, Events: evStore, Snapshots: snStore}
}

func newTestRouter(t *testing.T, stores *ingest.Stores) (http.Handler, *recordingAuditor) {
	t.Helper()
	th := throttle.New(throttle.Config{Enabled: false})
	pool := tasks.NewPool(1, 8, time.Second)
	t.Cleanup(pool.Close)

	svc := ingest.NewService(stores, th, nil, nil, nil, pool)
	aud := &recordingAuditor{}
	wh := api.NewWebhookHandler(svc, th, aud, nil, pool)
	hh := api.NewHealthHandler(nil, nil, nil, nil)
	return api.NewRouter(wh, hh, metrics.Handler()), aud
}

func postWebhook(router http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/webhook/irex", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestWebhook_SingleObjectAccepted(t *testing.T) {
	router, aud := newTestRouter(t, okStores())

	// A bare object is a batch of one.
	rr := postWebhook(router, `{"id":"e1","channel":{"id":"c1","name":"CAM-1"}}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type %q", ct)
	}

	var sum api.BatchSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if sum.Status != "success" || sum.EventsReceived != 1 || sum.EventsProcessed != 1 || sum.EventsErrored != 0 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if !sum.Persisted {
		t.Error("expected persisted=true")
	}
	if !strings.HasSuffix(sum.ProcessingTime, "ms") {
		t.Errorf("processingTime %q", sum.ProcessingTime)
	}

	if len(aud.logs) != 1 {
		t.Fatalf("audit rows = %d", len(aud.logs))
	}
	rec := aud.logs[0]
	if rec.Endpoint != "/webhook/irex" || rec.Method != "POST" || rec.Status != "success" {
		t.Errorf("audit row: %+v", rec)
	}
	if rec.FirstEventID != "e1" {
		t.Errorf("audit first event %q", rec.FirstEventID)
	}
}

func TestWebhook_BatchPartial(t *testing.T) {
	router, aud := newTestRouter(t, okStores())

	rr := postWebhook(router, `[
		{"id":"e1","channel_id":"c1"},
		{"id":"e2"},
		{"id":"e3","channel_id":"c3"}
	]`)

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	var sum api.BatchSummary
	json.Unmarshal(rr.Body.Bytes(), &sum)
	if sum.Status != "partial" || sum.EventsReceived != 3 || sum.EventsProcessed != 2 || sum.EventsErrored != 1 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if aud.logs[0].Status != "partial" {
		t.Errorf("audit status %q", aud.logs[0].Status)
	}
}

func TestWebhook_BadPayloads(t *testing.T) {
	router, aud := newTestRouter(t, okStores())

	// 1. Empty body
	// 2. Empty array
	// 3. Broken JSON
	// 4. Non-object scalar
	for _, body := range []string{"", "[]", `{"id":`, `"just a string"`} {
		rr := postWebhook(router, body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %q: got %d", body, rr.Code)
		}
		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "error" || resp["error"] == "" {
			t.Errorf("body %q: response %v", body, resp)
		}
	}

	if len(aud.logs) != 4 {
		t.Fatalf("audit rows = %d", len(aud.logs))
	}
	for _, rec := range aud.logs {
		if rec.Status != "error" || rec.ErrorText == "" {
			t.Errorf("audit row: %+v", rec)
		}
	}
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	router, _ := newTestRouter(t, okStores())

	for _, method := range []string{"GET", "PUT", "DELETE"} {
		req := httptest.NewRequest(method, "/webhook/irex", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: got %d", method, rr.Code)
		}
	}
}

func TestWebhook_NoDatabase(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := postWebhook(router, `[{"id":"e1","channel_id":"c1"}]`)

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	var sum api.BatchSummary
	json.Unmarshal(rr.Body.Bytes(), &sum)
	if sum.Persisted {
		t.Error("expected persisted=false without a database")
	}
	if sum.EventsProcessed != 1 || !strings.Contains(sum.Message, "not configured") {
		t.Errorf("unexpected summary: %+v", sum)
	}
}

func TestWebhook_StatsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, okStores())

	req := httptest.NewRequest("GET", "/webhook/irex/stats", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d", rr.Code)
	}
	var stats map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	for _, key := range []string{"enabled", "samplingMethod", "totalReceived", "totalProcessed", "projectedUploadsIfNoThrottle"} {
		if _, ok := stats[key]; !ok {
			t.Errorf("stats missing %q", key)
		}
	}
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t, okStores())

	req := httptest.NewRequest("GET", "/healthz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d", rr.Code)
	}
	var resp map[string]any
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Errorf("status %v", resp["status"])
	}
	// No DB handle wired in this test, so the boolean must be false.
	if db, ok := resp["database"].(bool); !ok || db {
		t.Errorf("database %v", resp["database"])
	}
}
