package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/terminalpay-backend/api/responses"
	"github.com/angelmondragon/terminalpay-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/terminalpay-backend/pkg/errors"
	"github.com/angelmondragon/terminalpay-backend/pkg/logger"
)

const (
	envHeader        = "X-TerminalPay-Env"
	readinessTimeout = 3 * time.Second
)

// Pinger is satisfied by the db, redis and pubsub clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies names the checks run by the readiness probe. Nil entries are skipped.
type Dependencies struct {
	DB     Pinger
	Redis  Pinger
	PubSub Pinger
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]string{}
		failed := false
		for name, pinger := range map[string]Pinger{"db": deps.DB, "redis": deps.Redis, "pubsub": deps.PubSub} {
			if pinger == nil {
				continue
			}
			if err := pinger.Ping(ctx); err != nil {
				if logg != nil {
					logg.Error(logg.WithField(ctx, "dependency", name), "readiness check failed", err)
				}
				checks[name] = "down"
				failed = true
				continue
			}
			checks[name] = "ok"
		}

		if failed {
			responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}

// DBHealth answers the legacy database probe used by the terminal fleet.
func DBHealth(db Pinger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()
		if db == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "database not configured"))
			return
		}
		if err := db.Ping(ctx); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "database unreachable"))
			return
		}
		responses.WriteRaw(w, http.StatusOK, map[string]string{"status": "ok", "db": "up"})
	}
}
