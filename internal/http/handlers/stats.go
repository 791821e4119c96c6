package handlers

import (
	"net/http"
)

// StatsSummary exposes aggregate usage counters.
func (a *App) StatsSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	users, err := a.Users.Count(ctx)
	if err != nil {
		a.Logger.Error().Err(err).Msg("stats: count users failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load stats")
		return
	}
	byStatus, err := a.Generations.CountByStatus(ctx)
	if err != nil {
		a.Logger.Error().Err(err).Msg("stats: count generations failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load stats")
		return
	}

	statuses := make(map[string]int, len(byStatus))
	for status, n := range byStatus {
		statuses[string(status)] = n
	}
	a.json(w, http.StatusOK, map[string]any{
		"total_users": users,
		"generations": statuses,
	})
}
