package middleware

import (
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/IanNoble-Visium/ELI-sub001/internal/ratelimit"
)

// RateLimitConfig is the per-IP ingress limit, read from config/default.yaml.
// This guards the HTTP surface; the snapshot admission throttle is a separate
// knob guarding the upload/graph egress.
type RateLimitConfig struct {
	Enabled       bool `yaml:"enabled"`
	Rate          int  `yaml:"rate"`
	WindowSeconds int  `yaml:"window_seconds"`
}

type RateLimitMiddleware struct {
	limiter *ratelimit.Limiter
	cfg     RateLimitConfig
}

func NewRateLimitMiddleware(l *ratelimit.Limiter, cfg RateLimitConfig) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: l, cfg: cfg}
}

// Limit enforces the per-IP window. Redis being down never blocks ingest:
// an event feed that drops deliveries is worse than a minute without limits.
func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	if !m.cfg.Enabled || m.limiter == nil {
		return next
	}

	window := time.Duration(m.cfg.WindowSeconds) * time.Second
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "rl:ip:" + m.limiter.HashIP(clientIP(r))

		decision, err := m.limiter.CheckRateLimit(r.Context(), key, ratelimit.LimitConfig{
			Rate:   m.cfg.Rate,
			Window: window,
		})
		if err != nil {
			log.Printf("[WARN] RateLimit: %v, failing open", err)
			next.ServeHTTP(w, r)
			return
		}

		writeRateLimitHeaders(w, decision)
		if !decision.Allowed {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
}
