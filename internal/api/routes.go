package api

import "net/http"

// NewRouter constructs a ServeMux with the ingest surface registered.
// Method patterns give us the 405 on non-POST webhook calls for free.
func NewRouter(wh *WebhookHandler, hh *HealthHandler, metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/{source}", wh.Receive)
	mux.HandleFunc("GET /webhook/{source}/stats", wh.Stats)
	mux.HandleFunc("GET /healthz", hh.Live)
	mux.Handle("GET /metrics", metricsHandler)
	return mux
}
