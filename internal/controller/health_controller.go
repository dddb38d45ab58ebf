package controller

import (
	"context"
	"net/http"
	"os"
	"time"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function, such as a go-redis ping, to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthController struct {
	db       Pinger
	redis    Pinger
	inboxDir string
}

// NewHealthController creates a HealthController. redis may be nil.
func NewHealthController(db, redis Pinger, inboxDir string) *HealthController {
	return &HealthController{db: db, redis: redis, inboxDir: inboxDir}
}

func (h *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthController) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *HealthController) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			notReady(w, "database unavailable")
			return
		}
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			notReady(w, "redis unavailable")
			return
		}
	}

	if fi, err := os.Stat(h.inboxDir); err != nil || !fi.IsDir() {
		notReady(w, "inbox directory unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func notReady(w http.ResponseWriter, reason string) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status": "not ready",
		"reason": reason,
	})
}
