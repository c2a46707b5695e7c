// Package friends implements the invitation and friendship lifecycle and
// routes the resulting real-time events.
package friends

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatme/backend/internal/auth"
	"github.com/chatme/backend/internal/events"
	"github.com/chatme/backend/internal/logging"
	"github.com/chatme/backend/internal/mailer"
	"github.com/chatme/backend/internal/models"
	"github.com/chatme/backend/internal/repositories"
	"github.com/chatme/backend/internal/router"
)

// Token response actions.
const (
	ActionAccept  = "accept"
	ActionDecline = "decline"
)

// UserStore looks up registered users.
type UserStore interface {
	FindByID(ctx context.Context, id string) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
}

// ProfileSource resolves user ids to public profiles.
type ProfileSource interface {
	Profile(ctx context.Context, userID string) (models.Profile, error)
}

// Router delivers events to online users.
type Router interface {
	Route(ctx context.Context, d router.Delivery) (router.Outcome, error)
}

// Response describes the result of accepting or declining an invite.
// AlreadyResolved marks a repeated response to a terminal invite, which is
// informational rather than an error.
type Response struct {
	Status          string `json:"status"`
	Message         string `json:"message"`
	AlreadyResolved bool   `json:"alreadyResolved,omitempty"`
}

func resolved(status string) Response {
	return Response{Status: status, Message: "invite already " + status, AlreadyResolved: true}
}

// Deps groups the collaborators of Service.
type Deps struct {
	Users       UserStore
	Friendships repositories.FriendRepository
	Invites     repositories.InviteRepository
	Profiles    ProfileSource
	Router      Router
	Mailer      mailer.Mailer
	// PublicBaseURL prefixes the accept and decline links in invite emails.
	PublicBaseURL string
}

// Service coordinates friendship records with real-time delivery.
type Service struct {
	users       UserStore
	friendships repositories.FriendRepository
	invites     repositories.InviteRepository
	profiles    ProfileSource
	router      Router
	mailer      mailer.Mailer
	baseURL     string

	now func() time.Time
}

// NewService constructs a Service.
func NewService(d Deps) *Service {
	m := d.Mailer
	if m == nil {
		m = mailer.LogMailer{}
	}
	return &Service{
		users:       d.Users,
		friendships: d.Friendships,
		invites:     d.Invites,
		profiles:    d.Profiles,
		router:      d.Router,
		mailer:      m,
		baseURL:     strings.TrimRight(d.PublicBaseURL, "/"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Invite creates a pending request from fromID to toID and notifies the
// recipient, live when online and through a stored notification otherwise.
func (s *Service) Invite(ctx context.Context, fromID, toID string) (router.Outcome, error) {
	if fromID == toID {
		return router.OutcomeDropped, ErrSelfInvite
	}

	recipient, err := s.profile(ctx, toID)
	if err != nil {
		return router.OutcomeDropped, err
	}
	sender, err := s.profile(ctx, fromID)
	if err != nil {
		return router.OutcomeDropped, err
	}

	if err := s.ensureNoOpenRelationship(ctx, fromID, toID); err != nil {
		return router.OutcomeDropped, err
	}

	now := s.now()
	request, err := s.friendships.CreateRequest(ctx, models.Friendship{
		ID:        uuid.NewString(),
		UserID:    fromID,
		FriendID:  toID,
		CreatedAt: now,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return router.OutcomeDropped, s.existingRelationshipError(ctx, fromID, toID)
		}
		if errors.Is(err, repositories.ErrNotFound) {
			return router.OutcomeDropped, ErrUserNotFound
		}
		return router.OutcomeDropped, fmt.Errorf("create friend request: %w", err)
	}

	// Routing outlives the caller so the committed row and its notification agree.
	routeCtx := context.WithoutCancel(ctx)
	outcome, err := s.router.Route(routeCtx, router.Delivery{
		RecipientID: toID,
		Event:       events.ReceiveInvite{From: toRef(sender)},
		Fallback: &models.Notification{
			ID:          uuid.NewString(),
			RecipientID: toID,
			SenderID:    fromID,
			Kind:        models.NotificationKindInvite,
			Message:     fmt.Sprintf("%s invited you to chat.", sender.Username),
			CreatedAt:   now,
		},
	})
	switch {
	case err == nil:
	case outcome == router.OutcomeDelivered:
		logging.FromContext(ctx).Warn("invite pushed but notification not stored", slog.Any("error", err))
	default:
		// The recipient heard nothing; withdraw so the sender can retry.
		if wErr := s.friendships.WithdrawRequest(routeCtx, request.ID); wErr != nil {
			logging.FromContext(ctx).Error("withdraw undelivered friend request",
				slog.String("request_id", request.ID),
				slog.Any("error", wErr),
			)
		}
		return outcome, fmt.Errorf("route invite: %w", err)
	}

	logging.FromContext(ctx).Info("invite sent",
		slog.String("from", fromID),
		slog.String("to", recipient.ID),
		slog.String("outcome", outcome.String()),
	)
	return outcome, nil
}

// Accept accepts the pending request sent by requesterID to acceptorID,
// creating the reciprocal friendship and telling the requester when online.
func (s *Service) Accept(ctx context.Context, acceptorID, requesterID string) (Response, error) {
	return s.respond(ctx, acceptorID, requesterID, models.StatusAccepted)
}

// Decline declines the pending request sent by requesterID to acceptorID.
func (s *Service) Decline(ctx context.Context, acceptorID, requesterID string) (Response, error) {
	return s.respond(ctx, acceptorID, requesterID, models.StatusDeclined)
}

func (s *Service) respond(ctx context.Context, acceptorID, requesterID, status string) (Response, error) {
	current, err := s.requestStatus(ctx, requesterID, acceptorID)
	if err != nil {
		return Response{}, err
	}
	if models.IsTerminal(current) {
		return resolved(current), nil
	}

	now := s.now()
	if status == models.StatusAccepted {
		err = s.friendships.Accept(ctx, requesterID, acceptorID, now)
	} else {
		err = s.friendships.Decline(ctx, requesterID, acceptorID, now)
	}
	if err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			// Resolved concurrently; report what won.
			current, lookupErr := s.requestStatus(ctx, requesterID, acceptorID)
			if lookupErr != nil {
				return Response{}, lookupErr
			}
			return resolved(current), nil
		}
		return Response{}, fmt.Errorf("mark friend request %s: %w", status, err)
	}

	if status == models.StatusAccepted {
		s.notifyAccepted(ctx, acceptorID, requesterID)
	}
	return Response{Status: status, Message: "invite " + status}, nil
}

// AcceptRealtime tells fromID that acceptorID accepted their invite. It does
// not change stored relationships, and it requires fromID to have invited
// acceptorID or the pair to already be friends.
func (s *Service) AcceptRealtime(ctx context.Context, acceptorID, fromID string) (router.Outcome, error) {
	if _, err := s.profile(ctx, fromID); err != nil {
		return router.OutcomeDropped, err
	}
	by, err := s.profile(ctx, acceptorID)
	if err != nil {
		return router.OutcomeDropped, err
	}

	rows, err := s.friendships.Between(ctx, fromID, acceptorID)
	if err != nil {
		return router.OutcomeDropped, fmt.Errorf("load relationship: %w", err)
	}
	if !invitedOrFriends(rows, fromID, acceptorID) {
		return router.OutcomeDropped, ErrInviteNotFound
	}
	return s.router.Route(ctx, router.Delivery{
		RecipientID: fromID,
		Event:       events.InviteAccepted{By: toRef(by)},
	})
}

// SendMessage pushes a private message to an online recipient. Messages to
// offline users are dropped.
func (s *Service) SendMessage(ctx context.Context, senderID, toID string, msg events.Message) (router.Outcome, error) {
	msg.SenderID = senderID
	if msg.SentAt == 0 {
		msg.SentAt = s.now().UnixMilli()
	}
	return s.router.Route(ctx, router.Delivery{
		RecipientID: toID,
		Event:       events.ReceivePrivateMessage{Message: msg},
	})
}

// Friends returns the accepted friends of userID.
func (s *Service) Friends(ctx context.Context, userID string) ([]models.Profile, error) {
	users, err := s.friendships.ListFriends(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	return profiles(users), nil
}

// Pending returns the users with a pending request addressed to userID.
func (s *Service) Pending(ctx context.Context, userID string) ([]models.Profile, error) {
	users, err := s.friendships.ListIncoming(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list incoming requests: %w", err)
	}
	return profiles(users), nil
}

// InviteByEmail issues a one-time token and emails accept and decline links
// to address. The token is removed again when the email cannot be sent.
func (s *Service) InviteByEmail(ctx context.Context, senderID, address string) (models.InviteToken, error) {
	email, err := normalizeEmail(address)
	if err != nil {
		return models.InviteToken{}, err
	}

	sender, err := s.users.FindByID(ctx, senderID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.InviteToken{}, ErrUserNotFound
		}
		return models.InviteToken{}, fmt.Errorf("load sender: %w", err)
	}
	if strings.EqualFold(sender.Email, email) {
		return models.InviteToken{}, ErrSelfInvite
	}

	if recipient, err := s.users.FindByEmail(ctx, email); err == nil {
		if err := s.ensureNoOpenRelationship(ctx, senderID, recipient.ID); errors.Is(err, ErrAlreadyFriends) {
			return models.InviteToken{}, err
		}
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return models.InviteToken{}, fmt.Errorf("load recipient: %w", err)
	}

	token, err := auth.RandomToken()
	if err != nil {
		return models.InviteToken{}, fmt.Errorf("generate invite token: %w", err)
	}

	invite := models.InviteToken{
		ID:             uuid.NewString(),
		SenderID:       senderID,
		RecipientEmail: email,
		Token:          token,
		Status:         models.StatusPending,
		CreatedAt:      s.now(),
	}
	if err := s.invites.Create(ctx, invite); err != nil {
		return models.InviteToken{}, fmt.Errorf("store invite token: %w", err)
	}

	if err := s.mailer.SendInvite(ctx, mailer.Invite{
		To:         email,
		SenderName: sender.Username,
		AcceptURL:  s.respondURL(token, ActionAccept),
		DeclineURL: s.respondURL(token, ActionDecline),
	}); err != nil {
		if delErr := s.invites.Delete(ctx, token); delErr != nil {
			logging.FromContext(ctx).Error("remove unsent invite token", slog.Any("error", delErr))
		}
		return models.InviteToken{}, fmt.Errorf("%w: %v", ErrMailDelivery, err)
	}

	return invite, nil
}

// RespondToken resolves an emailed invite. Responding again to a resolved
// token reports the recorded status without changing anything.
func (s *Service) RespondToken(ctx context.Context, token, action string) (Response, error) {
	if action != ActionAccept && action != ActionDecline {
		return Response{}, ErrInvalidAction
	}

	invite, err := s.findToken(ctx, token)
	if err != nil {
		return Response{}, err
	}
	if models.IsTerminal(invite.Status) {
		return resolved(invite.Status), nil
	}

	now := s.now()
	var recipient models.User
	if action == ActionDecline {
		err = s.invites.Decline(ctx, token, now)
	} else {
		recipient, err = s.users.FindByEmail(ctx, invite.RecipientEmail)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return Response{}, ErrRecipientNotRegistered
			}
			return Response{}, fmt.Errorf("load invite recipient: %w", err)
		}
		err = s.invites.Accept(ctx, token, recipient.ID, now)
	}
	if err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			latest, lookupErr := s.findToken(ctx, token)
			if lookupErr != nil {
				return Response{}, lookupErr
			}
			return resolved(latest.Status), nil
		}
		return Response{}, fmt.Errorf("%s invite token: %w", action, err)
	}

	if action == ActionDecline {
		return Response{Status: models.StatusDeclined, Message: "invite declined"}, nil
	}
	if recipient.ID != invite.SenderID {
		s.notifyAccepted(ctx, recipient.ID, invite.SenderID)
	}
	return Response{Status: models.StatusAccepted, Message: "invite accepted"}, nil
}

func (s *Service) notifyAccepted(ctx context.Context, acceptorID, requesterID string) {
	by, err := s.profile(ctx, acceptorID)
	if err != nil {
		by = models.Profile{ID: acceptorID}
	}
	if _, err := s.router.Route(ctx, router.Delivery{
		RecipientID: requesterID,
		Event:       events.InviteAccepted{By: toRef(by)},
	}); err != nil {
		logging.FromContext(ctx).Warn("notify invite accepted", slog.Any("error", err))
	}
}

// requestStatus returns the status of the request requester→recipient.
func (s *Service) requestStatus(ctx context.Context, requesterID, recipientID string) (string, error) {
	rows, err := s.friendships.Between(ctx, requesterID, recipientID)
	if err != nil {
		return "", fmt.Errorf("load friend request: %w", err)
	}
	for _, row := range rows {
		if row.UserID == requesterID && row.FriendID == recipientID {
			return row.Status, nil
		}
	}
	return "", ErrInviteNotFound
}

// ensureNoOpenRelationship rejects a new invite while any pending or accepted
// row links the pair in either direction.
func (s *Service) ensureNoOpenRelationship(ctx context.Context, a, b string) error {
	rows, err := s.friendships.Between(ctx, a, b)
	if err != nil {
		return fmt.Errorf("load relationship: %w", err)
	}
	return relationshipError(rows)
}

func (s *Service) existingRelationshipError(ctx context.Context, a, b string) error {
	if err := s.ensureNoOpenRelationship(ctx, a, b); err != nil {
		return err
	}
	return ErrAlreadyExists
}

func invitedOrFriends(rows []models.Friendship, requesterID, recipientID string) bool {
	for _, row := range rows {
		if row.Status == models.StatusAccepted {
			return true
		}
		if row.Status == models.StatusPending && row.UserID == requesterID && row.FriendID == recipientID {
			return true
		}
	}
	return false
}

func relationshipError(rows []models.Friendship) error {
	pending := false
	for _, row := range rows {
		switch row.Status {
		case models.StatusAccepted:
			return ErrAlreadyFriends
		case models.StatusPending:
			pending = true
		}
	}
	if pending {
		return ErrAlreadyExists
	}
	return nil
}

func (s *Service) profile(ctx context.Context, userID string) (models.Profile, error) {
	p, err := s.profiles.Profile(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.Profile{}, ErrUserNotFound
		}
		return models.Profile{}, fmt.Errorf("load user %s: %w", userID, err)
	}
	return p, nil
}

func (s *Service) findToken(ctx context.Context, token string) (models.InviteToken, error) {
	if token == "" {
		return models.InviteToken{}, ErrTokenNotFound
	}
	invite, err := s.invites.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.InviteToken{}, ErrTokenNotFound
		}
		return models.InviteToken{}, fmt.Errorf("load invite token: %w", err)
	}
	return invite, nil
}

func (s *Service) respondURL(token, action string) string {
	return s.baseURL + "/api/friends/respond/" + url.PathEscape(token) + "/" + action
}

func normalizeEmail(address string) (string, error) {
	parsed, err := mail.ParseAddress(strings.TrimSpace(address))
	if err != nil || parsed.Name != "" {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(parsed.Address), nil
}

func toRef(p models.Profile) events.UserRef {
	return events.UserRef{ID: p.ID, Username: p.Username}
}

func profiles(users []models.User) []models.Profile {
	out := make([]models.Profile, 0, len(users))
	for _, u := range users {
		out = append(out, u.Profile())
	}
	return out
}
