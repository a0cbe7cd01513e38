package ops

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
)

const readyTimeout = 2 * time.Second

// Pinger is anything the ready probe can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

func healthLive(env string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Boardfeed-Env", env)
		writeSuccess(w, http.StatusOK, map[string]string{"status": "live"})
	}
}

// healthReady reports 503 when any dependency fails its ping.
func healthReady(env string, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Boardfeed-Env", env)
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		checks := make(map[string]string, len(names))
		status := http.StatusOK
		for _, name := range names {
			if err := deps[name].Ping(ctx); err != nil {
				checks[name] = "error"
				status = http.StatusServiceUnavailable
				logg.Warn(logg.WithFields(ctx, map[string]any{"dependency": name, "error": err.Error()}), "readiness check failed")
				continue
			}
			checks[name] = "ok"
		}
		state := "ready"
		if status != http.StatusOK {
			state = "unavailable"
		}
		writeSuccess(w, status, map[string]any{"status": state, "checks": checks})
	}
}
