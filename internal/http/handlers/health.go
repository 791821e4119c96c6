package handlers

import (
	"net/http"
)

// Health reports liveness plus queue occupancy so a dashboard can see
// back-pressure building before users do.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"queue_depth":    a.Queue.Len(),
		"queue_capacity": a.Queue.Cap(),
		"active_users":   a.Gate.Active(),
	})
}
