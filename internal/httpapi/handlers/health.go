package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"relecloud/internal/httpkit"
)

const healthCheckTimeout = 5 * time.Second

// Health reports liveness. With ?deep=true it also checks postgres, redis
// and the storage container, and reports "degraded" when any check fails.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	health := map[string]any{
		"status":  "ok",
		"service": "relecloud-api",
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := map[string]map[string]any{
			"postgres": h.checkPostgres(ctx),
			"redis":    h.checkRedis(ctx),
			"storage":  h.checkStorage(ctx),
		}
		health["checks"] = checks

		for _, c := range checks {
			if c["status"] == "error" {
				health["status"] = "degraded"
				h.log.FromContext(ctx).Warn("health check degraded", "checks", checks)
				break
			}
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
}

func (h *Handler) checkPostgres(ctx context.Context) map[string]any {
	if h.db == nil {
		return map[string]any{"status": "disabled"}
	}
	return timed(ctx, func(ctx context.Context, result map[string]any) error {
		if err := h.db.Ping(ctx); err != nil {
			return err
		}
		if pool, ok := h.db.(*pgxpool.Pool); ok {
			stats := pool.Stat()
			result["total_conns"] = stats.TotalConns()
			result["idle_conns"] = stats.IdleConns()
			result["acquired_conns"] = stats.AcquiredConns()
		}
		return nil
	})
}

func (h *Handler) checkRedis(ctx context.Context) map[string]any {
	if h.rdb == nil {
		return map[string]any{"status": "disabled"}
	}
	return timed(ctx, func(ctx context.Context, _ map[string]any) error {
		return h.rdb.Ping(ctx).Err()
	})
}

func (h *Handler) checkStorage(ctx context.Context) map[string]any {
	if h.store == nil {
		return map[string]any{"status": "error", "error": "no storage backend"}
	}
	result := timed(ctx, func(ctx context.Context, _ map[string]any) error {
		return h.store.CheckContainer(ctx)
	})
	result["provider"] = h.store.Provider()
	return result
}

func timed(ctx context.Context, check func(context.Context, map[string]any) error) map[string]any {
	start := time.Now()
	result := map[string]any{"status": "ok"}

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := check(checkCtx, result); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}
	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}
