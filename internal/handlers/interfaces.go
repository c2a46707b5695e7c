package handlers

import (
	"context"
	"io"

	"github.com/chatme/backend/internal/friends"
	"github.com/chatme/backend/internal/models"
	"github.com/chatme/backend/internal/router"
)

// UserStore captures the persistence operations required by the auth and
// user handlers.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
	Search(ctx context.Context, query string, limit int) ([]models.User, error)
	Update(ctx context.Context, user models.User) error
}

// SessionManager issues and refreshes authentication tokens for users.
type SessionManager interface {
	Issue(ctx context.Context, userID string) (models.SessionTokens, error)
	Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error)
}

// FriendService captures the relationship operations exposed over HTTP.
type FriendService interface {
	Invite(ctx context.Context, fromID, toID string) (router.Outcome, error)
	Accept(ctx context.Context, acceptorID, requesterID string) (friends.Response, error)
	Decline(ctx context.Context, acceptorID, requesterID string) (friends.Response, error)
	Friends(ctx context.Context, userID string) ([]models.Profile, error)
	Pending(ctx context.Context, userID string) ([]models.Profile, error)
	InviteByEmail(ctx context.Context, senderID, address string) (models.InviteToken, error)
	RespondToken(ctx context.Context, token, action string) (friends.Response, error)
}

// NotificationStore serves the notifications inbox.
type NotificationStore interface {
	ListForUser(ctx context.Context, userID string) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, recipientID string) error
}

// AvatarStore persists uploaded profile images and returns their public URL.
type AvatarStore interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
}

// Presence reports who is online.
type Presence interface {
	Len() int
	Online(userID string) bool
}

// ProfileCache drops cached public profiles after a user changes theirs.
type ProfileCache interface {
	Invalidate(userID string)
}
