package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/chatme/backend/internal/logging"
	"github.com/chatme/backend/internal/models"
	"github.com/chatme/backend/internal/repositories"
)

// NotificationHandler serves the notifications inbox.
type NotificationHandler struct {
	Notifications NotificationStore
}

// List handles GET /api/notifications, newest first.
func (h NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	items, err := h.Notifications.ListForUser(ctx, userID)
	if err != nil {
		logging.FromContext(ctx).Error("list notifications", "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "unable to load notifications"})
		return
	}

	out := make([]notificationResponse, 0, len(items))
	for _, n := range items {
		out = append(out, toNotificationResponse(n))
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"notifications": out})
}

// MarkRead handles PUT /api/notifications/{id}/read. Only the recipient may
// mark a notification read.
func (h NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.Notifications.MarkRead(ctx, r.PathValue("id"), userID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": "notification not found"})
			return
		}
		logging.FromContext(ctx).Error("mark notification read", "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "unable to update notification"})
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]string{"message": "notification marked as read"})
}

type notificationResponse struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

func toNotificationResponse(n models.Notification) notificationResponse {
	return notificationResponse{
		ID:        n.ID,
		SenderID:  n.SenderID,
		Kind:      n.Kind,
		Message:   n.Message,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}
