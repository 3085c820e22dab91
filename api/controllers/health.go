package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/draftline/fantasy-backend/api/responses"
	"github.com/draftline/fantasy-backend/pkg/config"
	"github.com/draftline/fantasy-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Draftline-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady verifies the stores the webhook engine depends on. Redis is
// reported but not fatal: the durable lock carries idempotency without it.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP pinger, redisP pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		w.Header().Set("X-Draftline-Env", cfg.App.Env)
		status := map[string]string{"status": "ready", "db": "ok", "redis": "ok"}

		if dbP != nil {
			if err := dbP.Ping(ctx); err != nil {
				if logg != nil {
					logg.Error(ctx, "readiness: db ping failed", err)
				}
				status["status"] = "degraded"
				status["db"] = "unreachable"
				responses.WriteSuccessStatus(w, http.StatusServiceUnavailable, status)
				return
			}
		}
		if redisP != nil {
			if err := redisP.Ping(ctx); err != nil {
				if logg != nil {
					logg.Warn(ctx, "readiness: redis ping failed: "+err.Error())
				}
				status["redis"] = "unreachable"
			}
		}

		responses.WriteSuccess(w, status)
	}
}
