package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/IanNoble-Visium/ELI-sub001/internal/middleware"
)

func TestCORS_EchoesOrigin(t *testing.T) {
	var handlerHit bool
	handler := middleware.CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerHit = true
	}))

	req := httptest.NewRequest("POST", "/webhook/irex", nil)
	req.Header.Set("Origin", "https://console.customer.example")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://console.customer.example" {
		t.Errorf("allow-origin %q", got)
	}
	if w.Header().Get("Vary") != "Origin" {
		t.Errorf("vary %q", w.Header().Get("Vary"))
	}
	if !handlerHit {
		t.Error("handler not reached")
	}
}

func TestCORS_NoOrigin(t *testing.T) {
	handler := middleware.CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest("POST", "/webhook/irex", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin %q", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	handler := middleware.CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight reached the handler")
	}))

	req := httptest.NewRequest("OPTIONS", "/webhook/irex", nil)
	req.Header.Set("Origin", "https://console.customer.example")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("missing allow-methods on preflight")
	}
}

func TestRequestLogger(t *testing.T) {
	handler := middleware.RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("status %d not preserved", w.Code)
	}
}
