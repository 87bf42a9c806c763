package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/thumbgen/thumbgen-backend/api/responses"
	"github.com/thumbgen/thumbgen-backend/pkg/config"
	"github.com/thumbgen/thumbgen-backend/pkg/db"
	pkgerrors "github.com/thumbgen/thumbgen-backend/pkg/errors"
	"github.com/thumbgen/thumbgen-backend/pkg/logger"
	"github.com/thumbgen/thumbgen-backend/pkg/redis"
)

const envHeader = "X-Thumbgen-Env"

const readyPingTimeout = 2 * time.Second

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, redisP redis.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyPingTimeout)
		defer cancel()

		if dbP != nil {
			if err := dbP.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "database unavailable"))
				return
			}
		}
		if redisP != nil {
			if err := redisP.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "redis unavailable"))
				return
			}
		}

		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
