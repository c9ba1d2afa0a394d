package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/IanNoble-Visium/ELI-sub001/internal/audit"
	"github.com/IanNoble-Visium/ELI-sub001/internal/ingest"
	"github.com/IanNoble-Visium/ELI-sub001/internal/metrics"
	"github.com/IanNoble-Visium/ELI-sub001/internal/tasks"
	"github.com/IanNoble-Visium/ELI-sub001/internal/throttle"
)

const defaultMaxBodyBytes = 64 << 20 // inline base64 snapshots make batches big

type Auditor interface {
	WriteLog(ctx context.Context, rec audit.WebhookLog) error
}

type WebhookHandler struct {
	Service      *ingest.Service
	Throttle     *throttle.Throttle
	Auditor      Auditor
	Emitter      *metrics.Emitter
	Pool         *tasks.Pool
	MaxBodyBytes int64
}

func NewWebhookHandler(svc *ingest.Service, th *throttle.Throttle, aud Auditor, em *metrics.Emitter, pool *tasks.Pool) *WebhookHandler {
	return &WebhookHandler{
		Service:      svc,
		Throttle:     th,
		Auditor:      aud,
		Emitter:      em,
		Pool:         pool,
		MaxBodyBytes: defaultMaxBodyBytes,
	}
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"status": "error", "error": message})
}

// BatchSummary is the wire response for one webhook delivery.
type BatchSummary struct {
	Status          string `json:"status"`
	EventsReceived  int    `json:"eventsReceived"`
	EventsProcessed int    `json:"eventsProcessed"`
	EventsErrored   int    `json:"eventsErrored"`
	ProcessingTime  string `json:"processingTime"`
	Persisted       bool   `json:"persisted"`
	Message         string `json:"message,omitempty"`
}

// POST /webhook/{source}
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	source := r.PathValue("source")

	// Batch-level guard. Everything below recovers its own failures, so
	// landing here is a genuine 500.
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[ERROR] Webhook (%s): unhandled panic: %v", source, rec)
			metrics.WebhookBatchesTotal.WithLabelValues(source, "error").Inc()
			h.audit(r, source, audit.WebhookLog{
				Status:     "error",
				ErrorText:  fmt.Sprintf("panic: %v", rec),
				DurationMs: time.Since(start).Milliseconds(),
			})
			respondError(w, http.StatusInternalServerError, "internal error")
		}
	}()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody()))
	if err != nil {
		h.reject(w, r, source, start, fmt.Sprintf("read body: %v", err))
		return
	}

	events, err := decodeBatch(body)
	if err == nil && len(events) == 0 {
		err = errors.New("empty batch")
	}
	if err != nil {
		h.reject(w, r, source, start, err.Error())
		return
	}

	res := h.Service.ProcessBatch(r.Context(), source, events, start)
	duration := time.Since(start)

	metrics.WebhookBatchesTotal.WithLabelValues(source, res.Status()).Inc()
	metrics.BatchDuration.Observe(duration.Seconds())

	h.audit(r, source, audit.WebhookLog{
		Status:       res.Status(),
		PayloadShape: audit.Shape(res.Received, res.Snapshots, len(events) > 1),
		FirstEventID: res.FirstEventID,
		DurationMs:   duration.Milliseconds(),
	})

	// The pushgateway write rides the pool so the response never waits on it.
	if h.Emitter.Enabled() {
		stats := metrics.BatchStats{
			Source:     source,
			Received:   res.Received,
			Processed:  res.Processed,
			Errored:    res.Errored,
			DurationMs: duration.Milliseconds(),
		}
		h.Pool.Submit("metrics_emit", func(ctx context.Context) error {
			return h.Emitter.Emit(ctx, stats)
		})
	}

	respondJSON(w, http.StatusOK, BatchSummary{
		Status:          res.Status(),
		EventsReceived:  res.Received,
		EventsProcessed: res.Processed,
		EventsErrored:   res.Errored,
		ProcessingTime:  fmt.Sprintf("%dms", duration.Milliseconds()),
		Persisted:       res.Persisted,
		Message:         res.Message,
	})
}

// GET /webhook/{source}/stats
func (h *WebhookHandler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Throttle.Stats())
}

func (h *WebhookHandler) maxBody() int64 {
	if h.MaxBodyBytes > 0 {
		return h.MaxBodyBytes
	}
	return defaultMaxBodyBytes
}

// reject closes out a structurally bad delivery: 400, error audit row,
// error batch metric.
func (h *WebhookHandler) reject(w http.ResponseWriter, r *http.Request, source string, start time.Time, msg string) {
	log.Printf("[WARN] Webhook (%s): rejected: %s", source, msg)
	metrics.WebhookBatchesTotal.WithLabelValues(source, "error").Inc()
	h.audit(r, source, audit.WebhookLog{
		Status:     "error",
		ErrorText:  msg,
		DurationMs: time.Since(start).Milliseconds(),
	})
	respondError(w, http.StatusBadRequest, msg)
}

func (h *WebhookHandler) audit(r *http.Request, source string, rec audit.WebhookLog) {
	if h.Auditor == nil {
		return
	}
	rec.Endpoint = "/webhook/" + source
	rec.Method = r.Method
	if err := h.Auditor.WriteLog(r.Context(), rec); err != nil {
		log.Printf("[ERROR] Webhook (%s): audit write: %v", source, err)
	}
}

// decodeBatch accepts either a JSON array of event objects or a single
// event object, and splits it into per-event raw messages so one undecodable
// event cannot take down its batch.
func decodeBatch(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty payload")
	}

	switch trimmed[0] {
	case '[':
		var events []json.RawMessage
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("malformed JSON array: %v", err)
		}
		return events, nil
	case '{':
		if !json.Valid(trimmed) {
			return nil, errors.New("malformed JSON object")
		}
		return []json.RawMessage{json.RawMessage(trimmed)}, nil
	default:
		return nil, errors.New("payload must be a JSON object or array")
	}
}
