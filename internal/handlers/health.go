package handlers

import (
	"net/http"
)

// HealthHandler responds with service health information.
type HealthHandler struct {
	Presence Presence
}

// Handle implements GET /healthz.
func (h HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	online := 0
	if h.Presence != nil {
		online = h.Presence.Len()
	}

	respondJSON(r.Context(), w, http.StatusOK, healthResponse{Status: "ok", Online: online})
}

type healthResponse struct {
	Status string `json:"status"`
	Online int    `json:"online"`
}
