package handlers

import (
	"net/http"
	"strings"

	"github.com/chatme/backend/internal/logging"
	"github.com/chatme/backend/internal/models"
)

const searchLimit = 20

// UserHandler serves user discovery.
type UserHandler struct {
	Users UserStore
	// Presence is optional; without it every result reports offline.
	Presence Presence
}

type searchResult struct {
	models.Profile
	Online bool `json:"online"`
}

// Search handles GET /api/users/search?query=.
func (h UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	users, err := h.Users.Search(ctx, query, searchLimit+1)
	if err != nil {
		logging.FromContext(ctx).Error("search users", "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "unable to search users"})
		return
	}

	results := make([]searchResult, 0, len(users))
	for _, u := range users {
		if u.ID == userID || len(results) == searchLimit {
			continue
		}
		results = append(results, searchResult{Profile: u.Profile(), Online: h.Presence != nil && h.Presence.Online(u.ID)})
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"users": results})
}
