package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"
)

// Enabler reports whether an optional subsystem was configured at boot.
type Enabler interface {
	Enabled() bool
}

type HealthHandler struct {
	StartedAt time.Time
	DB        *sql.DB // nil when persistence is not configured
	Image     Enabler
	Graph     Enabler
	Feed      Enabler
}

func NewHealthHandler(db *sql.DB, image, graph, feed Enabler) *HealthHandler {
	return &HealthHandler{
		StartedAt: time.Now(),
		DB:        db,
		Image:     image,
		Graph:     graph,
		Feed:      feed,
	}
}

// GET /healthz
// Always 200: the process is alive even with every dependency down. The
// booleans tell operators which subsystems are actually reachable.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	dbOK := false
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		dbOK = h.DB.PingContext(ctx) == nil
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"uptime":       time.Since(h.StartedAt).Round(time.Second).String(),
		"database":     dbOK,
		"imageService": h.Image != nil && h.Image.Enabled(),
		"graph":        h.Graph != nil && h.Graph.Enabled(),
		"feed":         h.Feed != nil && h.Feed.Enabled(),
	})
}
