package repositories

import (
	"context"
	"time"

	"github.com/chatme/backend/internal/models"
)

// FriendRepository defines data access for directed friendship rows.
type FriendRepository interface {
	CreateRequest(ctx context.Context, request models.Friendship) (models.Friendship, error)
	Between(ctx context.Context, userA, userB string) ([]models.Friendship, error)
	Accept(ctx context.Context, requesterID, recipientID string, at time.Time) error
	Decline(ctx context.Context, requesterID, recipientID string, at time.Time) error
	WithdrawRequest(ctx context.Context, id string) error
	ListFriends(ctx context.Context, userID string) ([]models.User, error)
	ListIncoming(ctx context.Context, userID string) ([]models.User, error)
}

// InviteRepository defines data access for email invite tokens.
type InviteRepository interface {
	Create(ctx context.Context, invite models.InviteToken) error
	FindByToken(ctx context.Context, token string) (models.InviteToken, error)
	Accept(ctx context.Context, token, recipientID string, at time.Time) error
	Decline(ctx context.Context, token string, at time.Time) error
	Delete(ctx context.Context, token string) error
}

// NotificationRepository defines data access for the notifications inbox.
type NotificationRepository interface {
	Create(ctx context.Context, notification models.Notification) error
	ListForUser(ctx context.Context, userID string) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, recipientID string) error
}
