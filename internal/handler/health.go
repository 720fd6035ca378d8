package handler

import (
	"context"
	"net/http"
	"time"
)

// CheckFunc checks one dependency.
type CheckFunc func(ctx context.Context) error

// HealthHandler runs every check and reports 503 if any fails.
func HealthHandler(checks map[string]CheckFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				deps[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}

		body := map[string]interface{}{"status": "healthy", "checks": deps}
		if status != http.StatusOK {
			body["status"] = "unhealthy"
		}
		RespondJSON(w, status, body)
	}
}
