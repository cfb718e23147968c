package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"gifmill/internal/httpkit"
)

// Health reports liveness. With ?deep=true it also checks the queue, the
// metrics store and the artifact mirror.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	health := map[string]any{
		"status":        "ok",
		"service":       "gifmill-api",
		"version":       h.version,
		"max_file_size": h.maxBytes,
		"supported_formats": map[string]any{
			"images": sortedKeys(imageExtensions),
			"videos": sortedKeys(videoExtensions),
		},
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := h.deepHealthCheck(ctx)
		health["checks"] = checks

		for _, check := range checks {
			if check["status"] == "error" {
				health["status"] = "degraded"
				log.Warn("health check degraded", "checks", checks)
				break
			}
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
}

func (h *Handler) deepHealthCheck(ctx context.Context) map[string]map[string]any {
	return map[string]map[string]any{
		"redis":   h.checkPing(ctx, h.queue),
		"metrics": h.checkMetricsStore(ctx),
		"storage": h.checkStorage(ctx),
	}
}

func (h *Handler) checkPing(ctx context.Context, p Pinger) map[string]any {
	start := time.Now()
	result := map[string]any{
		"status": "ok",
	}
	if p == nil {
		result["status"] = "disabled"
		return result
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.Ping(checkCtx); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}

	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}

// checkMetricsStore pings the store and, for Postgres, adds pool stats.
func (h *Handler) checkMetricsStore(ctx context.Context) map[string]any {
	result := h.checkPing(ctx, h.store)
	if result["status"] != "ok" {
		return result
	}
	if s, ok := h.store.(interface{ Stat() *pgxpool.Stat }); ok {
		stats := s.Stat()
		result["total_conns"] = stats.TotalConns()
		result["idle_conns"] = stats.IdleConns()
		result["acquired_conns"] = stats.AcquiredConns()
	}
	return result
}

func (h *Handler) checkStorage(_ context.Context) map[string]any {
	if h.sp == nil {
		return map[string]any{"status": "disabled"}
	}
	return map[string]any{
		"status":   "ok",
		"provider": h.sp.Provider(),
	}
}
