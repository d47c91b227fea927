package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Check pings one dependency.
type Check func(ctx context.Context) error

type HealthHandler struct {
	postgres Check
	redis    Check
	env      string
	version  string
}

// NewHealthHandler checks Postgres and, when rdb is set, Redis. Redis being
// down degrades the service; Postgres being down fails readiness.
func NewHealthHandler(pgPool *pgxpool.Pool, rdb *redis.Client, env, version string) *HealthHandler {
	h := &HealthHandler{env: env, version: version}
	if pgPool != nil {
		h.postgres = pgPool.Ping
	}
	if rdb != nil {
		h.redis = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return h
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string)
	status := "ok"

	if h.postgres != nil {
		if ping(ctx, h.postgres) != nil {
			deps["postgres"] = "down"
			status = "error"
		} else {
			deps["postgres"] = "ok"
		}
	}

	if h.redis != nil {
		if ping(ctx, h.redis) != nil {
			deps["redis"] = "down"
			if status == "ok" {
				status = "degraded"
			}
		} else {
			deps["redis"] = "ok"
		}
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	})
}

func ping(ctx context.Context, check Check) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return check(ctx)
}
