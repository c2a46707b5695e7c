package friends

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chatme/backend/internal/config"
	"github.com/chatme/backend/internal/directory"
	"github.com/chatme/backend/internal/events"
	"github.com/chatme/backend/internal/models"
	"github.com/chatme/backend/internal/presence"
	"github.com/chatme/backend/internal/router"
)

type fixture struct {
	svc           *Service
	users         *memoryUsers
	friendships   *memoryFriendships
	invites       *memoryInvites
	notifications *memoryNotifications
	mailer        *recordingMailer
	registry      *presence.Registry
}

var (
	alice = models.User{ID: "alice", Username: "alice", Email: "alice@example.com"}
	bob   = models.User{ID: "bob", Username: "bob", Email: "bob@example.com"}
	carol = models.User{ID: "carol", Username: "carol", Email: "carol@example.com"}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users := newMemoryUsers(alice, bob, carol)
	friendships := newMemoryFriendships(users)
	invites := newMemoryInvites(friendships)
	notifications := &memoryNotifications{}
	registry := presence.NewRegistry()
	mail := &recordingMailer{}

	rt := router.New(registry, notifications, router.Config{QueueSize: 8, Workers: 1, Policy: config.NotifyFallback}, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	})

	svc := NewService(Deps{
		Users:         users,
		Friendships:   friendships,
		Invites:       invites,
		Profiles:      directory.New(users, time.Minute),
		Router:        rt,
		Mailer:        mail,
		PublicBaseURL: "https://chat.example.com/",
	})

	return &fixture{
		svc: svc, users: users, friendships: friendships, invites: invites,
		notifications: notifications, mailer: mail, registry: registry,
	}
}

func ids(profiles []models.Profile) []string {
	out := make([]string, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p.ID)
	}
	return out
}

func TestInviteAcceptIsSymmetric(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Invite(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("invite: %v", err)
	}
	pending, err := f.svc.Pending(ctx, bob.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if got := ids(pending); len(got) != 1 || got[0] != alice.ID {
		t.Fatalf("expected alice pending for bob got %v", got)
	}

	resp, err := f.svc.Accept(ctx, bob.ID, alice.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if resp.Status != models.StatusAccepted || resp.AlreadyResolved {
		t.Fatalf("unexpected response %+v", resp)
	}

	for _, tc := range []struct{ user, friend string }{{alice.ID, bob.ID}, {bob.ID, alice.ID}} {
		friends, err := f.svc.Friends(ctx, tc.user)
		if err != nil {
			t.Fatalf("friends: %v", err)
		}
		if got := ids(friends); len(got) != 1 || got[0] != tc.friend {
			t.Fatalf("expected %s to be friends with %s got %v", tc.user, tc.friend, got)
		}
	}
}

func TestInviteSelfAlwaysConflicts(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{alice.ID, "not-registered"} {
		if _, err := f.svc.Invite(context.Background(), id, id); !errors.Is(err, ErrSelfInvite) {
			t.Fatalf("expected ErrSelfInvite for %s got %v", id, err)
		}
	}
	if f.friendships.count() != 0 {
		t.Fatal("expected no relationship records")
	}
}

func TestInviteGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Invite(ctx, alice.ID, "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound got %v", err)
	}

	if _, err := f.svc.Invite(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if _, err := f.svc.Invite(ctx, alice.ID, bob.ID); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists on repeat got %v", err)
	}
	if _, err := f.svc.Invite(ctx, bob.ID, alice.ID); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists in reverse direction got %v", err)
	}
	if f.friendships.count() != 1 {
		t.Fatalf("expected a single record got %d", f.friendships.count())
	}

	if _, err := f.svc.Accept(ctx, bob.ID, alice.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	for _, from := range []string{alice.ID, bob.ID} {
		to := bob.ID
		if from == bob.ID {
			to = alice.ID
		}
		if _, err := f.svc.Invite(ctx, from, to); !errors.Is(err, ErrAlreadyFriends) {
			t.Fatalf("expected ErrAlreadyFriends got %v", err)
		}
	}
	if f.friendships.count() != 2 {
		t.Fatalf("expected two reciprocal records got %d", f.friendships.count())
	}
	if !IsConflict(ErrAlreadyFriends) || IsConflict(ErrUserNotFound) {
		t.Fatal("unexpected conflict classification")
	}
}

func TestInviteOfflineRecipientStoresOneUnreadNotification(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.svc.Invite(context.Background(), alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if outcome != router.OutcomeStored {
		t.Fatalf("expected stored got %s", outcome)
	}

	inbox := f.notifications.forUser(bob.ID)
	if len(inbox) != 1 {
		t.Fatalf("expected one notification got %d", len(inbox))
	}
	n := inbox[0]
	if n.Read || n.SenderID != alice.ID || n.Kind != models.NotificationKindInvite {
		t.Fatalf("unexpected notification %+v", n)
	}
	if n.Message != "alice invited you to chat." {
		t.Fatalf("unexpected message %q", n.Message)
	}
}

func TestInviteWithdrawnWhenNotificationCannotBeStored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifications.fail(errors.New("db down"))

	if _, err := f.svc.Invite(ctx, alice.ID, bob.ID); !errors.Is(err, router.ErrNotStored) {
		t.Fatalf("expected ErrNotStored got %v", err)
	}
	if f.friendships.count() != 0 {
		t.Fatalf("expected no relationship rows got %d", f.friendships.count())
	}
	pending, err := f.svc.Pending(ctx, bob.ID)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected no pending requests got %v %v", ids(pending), err)
	}

	f.notifications.fail(nil)
	outcome, err := f.svc.Invite(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("retry invite: %v", err)
	}
	if outcome != router.OutcomeStored {
		t.Fatalf("expected stored got %s", outcome)
	}
	if got := len(f.notifications.forUser(bob.ID)); got != 1 {
		t.Fatalf("expected exactly one notification got %d", got)
	}
}

func TestInviteReopenedAfterDeclineIsWithdrawnOnStoreFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Invite(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if _, err := f.svc.Decline(ctx, bob.ID, alice.ID); err != nil {
		t.Fatalf("decline: %v", err)
	}

	f.notifications.fail(errors.New("db down"))
	if _, err := f.svc.Invite(ctx, alice.ID, bob.ID); err == nil {
		t.Fatal("expected reinvite to fail while notifications cannot be stored")
	}
	if pending, _ := f.svc.Pending(ctx, bob.ID); len(pending) != 0 {
		t.Fatalf("expected no pending request left behind got %v", ids(pending))
	}

	f.notifications.fail(nil)
	if _, err := f.svc.Invite(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("retry reinvite: %v", err)
	}
}

func TestInviteOnlineRecipientIsPushed(t *testing.T) {
	f := newFixture(t)
	conn := &connHandle{id: "c-bob"}
	f.registry.Register(bob.ID, conn)

	outcome, err := f.svc.Invite(context.Background(), alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if outcome != router.OutcomeDelivered {
		t.Fatalf("expected delivered got %s", outcome)
	}
	if got := conn.kinds(); len(got) != 1 || got[0] != events.KindReceiveInvite {
		t.Fatalf("unexpected pushed events %v", got)
	}
	if len(f.notifications.forUser(bob.ID)) != 0 {
		t.Fatal("expected no stored notification for online recipient")
	}
}

func TestAcceptNotifiesRequesterAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conn := &connHandle{id: "c-alice"}
	f.registry.Register(alice.ID, conn)

	if _, err := f.svc.Invite(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if _, err := f.svc.Accept(ctx, bob.ID, alice.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := conn.kinds(); len(got) != 1 || got[0] != events.KindInviteAccepted {
		t.Fatalf("expected invite_accepted push got %v", got)
	}

	for _, respond := range []func(context.Context, string, string) (Response, error){f.svc.Accept, f.svc.Decline} {
		resp, err := respond(ctx, bob.ID, alice.ID)
		if err != nil {
			t.Fatalf("repeat response: %v", err)
		}
		if !resp.AlreadyResolved || resp.Message != "invite already accepted" {
			t.Fatalf("expected informational response got %+v", resp)
		}
	}
}

func TestAcceptWithoutInvite(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Accept(context.Background(), bob.ID, alice.ID); !errors.Is(err, ErrInviteNotFound) {
		t.Fatalf("expected ErrInviteNotFound got %v", err)
	}
}

func TestDeclineThenReinvite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Invite(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("invite: %v", err)
	}
	resp, err := f.svc.Decline(ctx, bob.ID, alice.ID)
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if resp.Status != models.StatusDeclined {
		t.Fatalf("unexpected response %+v", resp)
	}
	friends, _ := f.svc.Friends(ctx, alice.ID)
	if len(friends) != 0 {
		t.Fatalf("expected no friends after decline got %v", ids(friends))
	}

	if _, err := f.svc.Invite(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("reinvite after decline: %v", err)
	}
}

func TestAcceptRealtime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conn := &connHandle{id: "c-alice"}
	f.registry.Register(alice.ID, conn)

	if _, err := f.svc.Invite(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("invite: %v", err)
	}
	outcome, err := f.svc.AcceptRealtime(ctx, bob.ID, alice.ID)
	if err != nil {
		t.Fatalf("accept realtime: %v", err)
	}
	if outcome != router.OutcomeDelivered {
		t.Fatalf("expected delivered got %s", outcome)
	}
	if _, err := f.svc.AcceptRealtime(ctx, bob.ID, "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound got %v", err)
	}
}

func TestAcceptRealtimeRequiresInviteOrFriendship(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conn := &connHandle{id: "c-alice"}
	f.registry.Register(alice.ID, conn)

	if _, err := f.svc.AcceptRealtime(ctx, carol.ID, alice.ID); !errors.Is(err, ErrInviteNotFound) {
		t.Fatalf("expected ErrInviteNotFound without an invite got %v", err)
	}

	// An invite in the other direction does not let the sender fake an accept.
	if _, err := f.svc.Invite(ctx, carol.ID, alice.ID); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if _, err := f.svc.AcceptRealtime(ctx, carol.ID, alice.ID); !errors.Is(err, ErrInviteNotFound) {
		t.Fatalf("expected ErrInviteNotFound for reversed invite got %v", err)
	}
	if got := conn.kinds(); len(got) != 1 || got[0] != events.KindReceiveInvite {
		t.Fatalf("expected only the invite push got %v", got)
	}

	if _, err := f.svc.Accept(ctx, alice.ID, carol.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.AcceptRealtime(ctx, carol.ID, alice.ID); err != nil {
		t.Fatalf("expected friends to pass got %v", err)
	}
}

func TestSendMessageStampsSender(t *testing.T) {
	f := newFixture(t)
	conn := &connHandle{id: "c-bob"}
	f.registry.Register(bob.ID, conn)

	outcome, err := f.svc.SendMessage(context.Background(), alice.ID, bob.ID, events.Message{SenderID: "mallory", Text: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if outcome != router.OutcomeDelivered {
		t.Fatalf("expected delivered got %s", outcome)
	}
	conn.mu.Lock()
	msg := conn.received[0].(events.ReceivePrivateMessage).Message
	conn.mu.Unlock()
	if msg.SenderID != alice.ID || msg.SentAt == 0 {
		t.Fatalf("expected sender stamped got %+v", msg)
	}

	outcome, err = f.svc.SendMessage(context.Background(), alice.ID, carol.ID, events.Message{Text: "hi"})
	if err != nil || outcome != router.OutcomeDropped {
		t.Fatalf("expected offline message dropped got %s %v", outcome, err)
	}
}

func TestInviteByEmailSendsLinks(t *testing.T) {
	f := newFixture(t)

	invite, err := f.svc.InviteByEmail(context.Background(), alice.ID, " New.Person@Example.com ")
	if err != nil {
		t.Fatalf("invite by email: %v", err)
	}
	if invite.RecipientEmail != "new.person@example.com" || invite.Status != models.StatusPending {
		t.Fatalf("unexpected invite %+v", invite)
	}
	if len(f.mailer.sent) != 1 {
		t.Fatalf("expected one mail got %d", len(f.mailer.sent))
	}
	sent := f.mailer.sent[0]
	wantAccept := "https://chat.example.com/api/friends/respond/" + invite.Token + "/accept"
	if sent.AcceptURL != wantAccept || !strings.HasSuffix(sent.DeclineURL, "/decline") {
		t.Fatalf("unexpected links %+v", sent)
	}
	if len(invite.Token) < 40 {
		t.Fatalf("expected a long random token got %q", invite.Token)
	}
}

func TestInviteByEmailValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.InviteByEmail(ctx, alice.ID, "not-an-email"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail got %v", err)
	}
	if _, err := f.svc.InviteByEmail(ctx, alice.ID, "ALICE@example.com"); !errors.Is(err, ErrSelfInvite) {
		t.Fatalf("expected ErrSelfInvite got %v", err)
	}
	if _, err := f.svc.InviteByEmail(ctx, "ghost", "x@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound got %v", err)
	}
}

func TestInviteByEmailMailFailureRemovesToken(t *testing.T) {
	f := newFixture(t)
	f.mailer.err = errors.New("smtp unreachable")

	if _, err := f.svc.InviteByEmail(context.Background(), alice.ID, "new@example.com"); !errors.Is(err, ErrMailDelivery) {
		t.Fatalf("expected ErrMailDelivery got %v", err)
	}
	if got := f.invites.all(); len(got) != 0 {
		t.Fatalf("expected token removed got %v", got)
	}
}

func TestRespondTokenDeclineThenAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invite, err := f.svc.InviteByEmail(ctx, alice.ID, bob.Email)
	if err != nil {
		t.Fatalf("invite by email: %v", err)
	}

	resp, err := f.svc.RespondToken(ctx, invite.Token, ActionDecline)
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if resp.Status != models.StatusDeclined {
		t.Fatalf("unexpected response %+v", resp)
	}

	resp, err = f.svc.RespondToken(ctx, invite.Token, ActionAccept)
	if err != nil {
		t.Fatalf("accept after decline: %v", err)
	}
	if resp.Message != "invite already declined" || !resp.AlreadyResolved {
		t.Fatalf("expected already declined got %+v", resp)
	}
	if f.friendships.count() != 0 {
		t.Fatal("expected no relationship after declined token")
	}
}

func TestRespondTokenAcceptTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invite, err := f.svc.InviteByEmail(ctx, alice.ID, "dave@example.com")
	if err != nil {
		t.Fatalf("invite by email: %v", err)
	}

	if _, err := f.svc.RespondToken(ctx, invite.Token, ActionAccept); !errors.Is(err, ErrRecipientNotRegistered) {
		t.Fatalf("expected ErrRecipientNotRegistered got %v", err)
	}
	stored, _ := f.invites.FindByToken(ctx, invite.Token)
	if stored.Status != models.StatusPending {
		t.Fatalf("expected token to stay pending got %s", stored.Status)
	}

	f.users.add(models.User{ID: "dave", Username: "dave", Email: "dave@example.com"})

	first, err := f.svc.RespondToken(ctx, invite.Token, ActionAccept)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if first.Status != models.StatusAccepted || first.AlreadyResolved {
		t.Fatalf("unexpected first response %+v", first)
	}

	for i := 0; i < 2; i++ {
		again, err := f.svc.RespondToken(ctx, invite.Token, ActionAccept)
		if err != nil {
			t.Fatalf("repeat accept: %v", err)
		}
		if again.Message != "invite already accepted" {
			t.Fatalf("expected already accepted got %+v", again)
		}
	}
	if f.friendships.count() != 2 {
		t.Fatalf("expected exactly one bidirectional friendship got %d rows", f.friendships.count())
	}
}

func TestRespondTokenErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.RespondToken(ctx, "missing", ActionAccept); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound got %v", err)
	}
	if _, err := f.svc.RespondToken(ctx, "missing", "maybe"); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction got %v", err)
	}
	if !IsNotFound(ErrTokenNotFound) || !IsValidation(ErrInvalidAction) {
		t.Fatal("unexpected error classification")
	}
}
