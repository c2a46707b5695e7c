package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/chatme/backend/internal/friends"
	"github.com/chatme/backend/internal/logging"
	"github.com/chatme/backend/internal/models"
)

// FriendHandler provides friend invite and listing endpoints.
type FriendHandler struct {
	Friends FriendService
}

// Invite handles POST /api/friends/invite.
func (h FriendHandler) Invite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.To) == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "to is required"})
		return
	}

	outcome, err := h.Friends.Invite(ctx, userID, strings.TrimSpace(req.To))
	if err != nil {
		h.fail(w, r, "send invite", err)
		return
	}

	respondJSON(ctx, w, http.StatusCreated, map[string]string{
		"message":  "invite sent",
		"delivery": outcome.String(),
	})
}

// Accept handles PUT /api/friends/accept.
func (h FriendHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.Friends.Accept)
}

// Decline handles PUT /api/friends/decline.
func (h FriendHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.Friends.Decline)
}

func (h FriendHandler) respond(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, acceptorID, requesterID string) (friends.Response, error)) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.From) == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "from is required"})
		return
	}

	resp, err := apply(ctx, userID, strings.TrimSpace(req.From))
	if err != nil {
		h.fail(w, r, "respond to invite", err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, resp)
}

// Requests handles GET /api/friends/requests.
func (h FriendHandler) Requests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	pending, err := h.Friends.Pending(ctx, userID)
	if err != nil {
		h.fail(w, r, "list friend requests", err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string][]models.Profile{"requests": pending})
}

// List handles GET /api/friends/{userId}. Callers may only list their own
// friends.
func (h FriendHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if target := r.PathValue("userId"); target != userID {
		respondJSON(ctx, w, http.StatusForbidden, map[string]string{"error": "you can only list your own friends"})
		return
	}

	list, err := h.Friends.Friends(ctx, userID)
	if err != nil {
		h.fail(w, r, "list friends", err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string][]models.Profile{"friends": list})
}

// InviteEmail handles POST /api/friends/invite-email.
func (h FriendHandler) InviteEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req inviteEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if _, err := h.Friends.InviteByEmail(ctx, userID, req.ToEmail); err != nil {
		h.fail(w, r, "send email invite", err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, map[string]string{"message": "invitation email sent"})
}

// RespondToken handles GET /api/friends/respond/{token}/{action}, the target
// of the links in invitation emails.
func (h FriendHandler) RespondToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	resp, err := h.Friends.RespondToken(ctx, r.PathValue("token"), r.PathValue("action"))
	if err != nil {
		h.fail(w, r, "respond to invite token", err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, resp)
}

func (h FriendHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	status := friendErrorStatus(err)
	if status == http.StatusInternalServerError {
		logging.FromContext(ctx).Error(op, "error", err)
		respondJSON(ctx, w, status, map[string]string{"error": "something went wrong, try again"})
		return
	}
	if status == http.StatusBadGateway {
		logging.FromContext(ctx).Error(op, "error", err)
		respondJSON(ctx, w, status, map[string]string{"error": friends.ErrMailDelivery.Error()})
		return
	}
	respondJSON(ctx, w, status, map[string]string{"error": err.Error()})
}

func friendErrorStatus(err error) int {
	switch {
	case friends.IsValidation(err):
		return http.StatusBadRequest
	case friends.IsNotFound(err):
		return http.StatusNotFound
	case friends.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, friends.ErrMailDelivery):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type inviteRequest struct {
	To string `json:"to"`
}

type respondRequest struct {
	From string `json:"from"`
}

type inviteEmailRequest struct {
	ToEmail string `json:"toEmail"`
}
