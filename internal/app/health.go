package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

type pinger interface {
	PingContext(ctx context.Context) error
}

// healthHandler reports degraded when the database, or Redis if configured,
// does not answer within two seconds.
func healthHandler(database pinger, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{"database": "ok"}
		status := http.StatusOK
		if err := database.PingContext(ctx); err != nil {
			checks["database"] = "unavailable"
			status = http.StatusServiceUnavailable
		}
		if redisClient != nil {
			checks["redis"] = "ok"
			if err := redisClient.Ping(ctx).Err(); err != nil {
				checks["redis"] = "unavailable"
				status = http.StatusServiceUnavailable
			}
		}

		body := map[string]any{"status": "ok", "checks": checks, "time": time.Now().UTC().Format(time.RFC3339)}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
