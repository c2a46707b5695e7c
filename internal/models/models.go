package models

import "time"

// User represents an account within the Chatme platform.
type User struct {
	ID        string
	Email     string
	Username  string
	Password  string
	AvatarURL string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Profile is the public projection of a user shared with other users.
type Profile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Profile returns the public projection of the user.
func (u User) Profile() Profile {
	return Profile{ID: u.ID, Username: u.Username, Email: u.Email, AvatarURL: u.AvatarURL}
}

// Relationship statuses shared by friendships and invite tokens.
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusDeclined = "declined"
)

// IsTerminal reports whether the status no longer accepts transitions.
func IsTerminal(status string) bool {
	return status == StatusAccepted || status == StatusDeclined
}

// Friendship is a directed relationship row from UserID to FriendID. An
// accepted friendship is stored as two reciprocal accepted rows.
type Friendship struct {
	ID          string
	UserID      string
	FriendID    string
	Status      string
	CreatedAt   time.Time
	RespondedAt *time.Time
}

// InviteToken backs an out-of-band email invitation.
type InviteToken struct {
	ID             string
	SenderID       string
	RecipientEmail string
	Token          string
	Status         string
	CreatedAt      time.Time
	RespondedAt    *time.Time
}

// NotificationKindInvite marks a notification created for an undelivered invite.
const NotificationKindInvite = "invite"

// Notification is a durable record surfaced through the notifications inbox.
type Notification struct {
	ID          string
	RecipientID string
	SenderID    string
	Kind        string
	Message     string
	Read        bool
	CreatedAt   time.Time
}

// SessionTokens groups the bearer credentials issued to authenticated users.
type SessionTokens struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}
