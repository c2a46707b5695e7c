package handlers

import (
	"net/http"

	"github.com/chatme/backend/internal/middleware"
)

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Presence: deps.Presence}
	auth := AuthHandler{
		Users:          deps.Users,
		Sessions:       deps.Sessions,
		Avatars:        deps.Avatars,
		Profiles:       deps.Profiles,
		MaxAvatarBytes: deps.MaxAvatarBytes,
	}
	users := UserHandler{Users: deps.Users, Presence: deps.Presence}
	friends := FriendHandler{Friends: deps.Friends}
	notifications := NotificationHandler{Notifications: deps.Notifications}

	bearer := middleware.RequireAuth(deps.Verifier)
	limited := func(scope string, h http.HandlerFunc) http.Handler {
		return middleware.RateLimit(deps.RateLimiter, scope)(h)
	}
	private := func(h http.HandlerFunc) http.Handler {
		return bearer(h)
	}

	mux.HandleFunc("/healthz", health.Handle)

	mux.Handle("/api/auth/register", limited("register", auth.Register))
	mux.Handle("/api/auth/login", limited("login", auth.Login))
	mux.Handle("/api/auth/refresh", limited("refresh", auth.Refresh))
	mux.Handle("/api/auth/me", private(auth.Me))
	mux.Handle("/api/auth/me/avatar", private(auth.UpdateAvatar))

	mux.Handle("/api/users/search", private(users.Search))

	mux.Handle("/api/friends/invite", private(friends.Invite))
	mux.Handle("/api/friends/accept", private(friends.Accept))
	mux.Handle("/api/friends/decline", private(friends.Decline))
	mux.Handle("/api/friends/requests", private(friends.Requests))
	mux.Handle("/api/friends/invite-email", bearer(limited("invite-email", friends.InviteEmail)))
	mux.Handle("/api/friends/respond/{token}/{action}", limited("respond", friends.RespondToken))
	mux.Handle("/api/friends/{userId}", private(friends.List))

	mux.Handle("/api/notifications", private(notifications.List))
	mux.Handle("/api/notifications/{id}/read", private(notifications.MarkRead))

	if deps.Realtime != nil {
		mux.Handle("/ws", deps.Realtime)
	}
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Users         UserStore
	Sessions      SessionManager
	Verifier      middleware.TokenVerifier
	Friends       FriendService
	Notifications NotificationStore
	// Avatars is nil when no object store is configured.
	Avatars        AvatarStore
	MaxAvatarBytes int64
	// Profiles is optional; it is told when a user's profile changes.
	Profiles       ProfileCache
	Presence       Presence
	RateLimiter    middleware.RateLimiter
	Realtime       http.Handler
}
