package handler

import (
	"context"
	"net/http"

	"github.com/staffdesk/medbook/internal/domain"
)

// StatsSource returns the aggregate record counts.
type StatsSource interface {
	Stats(ctx context.Context) (domain.Stats, error)
}

// StatsHandler exposes the aggregate counts the admin panel shows. It carries no personal data.
func StatsHandler(src StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := src.Stats(r.Context())
		if err != nil {
			RespondError(w, err)
			return
		}
		RespondJSON(w, http.StatusOK, map[string]int64{
			"active":      st.TotalActive,
			"expired":     st.TotalExpired,
			"blacklisted": st.TotalBlacklisted,
		})
	}
}
