package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/chatme/backend/internal/friends"
	"github.com/chatme/backend/internal/models"
)

func TestFriendHandlerInvite(t *testing.T) {
	h := newAPIHarness(t)
	token := h.tokenFor(t, "alice")

	rec := h.do(t, http.MethodPost, "/api/friends/invite", token, inviteRequest{To: "bob"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", rec.Code)
	}
	body := decodeBody[map[string]string](t, rec)
	if body["delivery"] == "" {
		t.Fatalf("expected delivery outcome in response, got %v", body)
	}
	if len(h.friends.calls) != 1 || h.friends.calls[0] != "invite:alice:bob" {
		t.Fatalf("unexpected service calls %v", h.friends.calls)
	}

	rec = h.do(t, http.MethodPost, "/api/friends/invite", token, inviteRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing recipient got %d", rec.Code)
	}

	rec = h.do(t, http.MethodGet, "/api/friends/invite", token, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", rec.Code)
	}
}

func TestFriendHandlerInviteErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"self", friends.ErrSelfInvite, http.StatusConflict},
		{"duplicate", friends.ErrAlreadyExists, http.StatusConflict},
		{"friends", friends.ErrAlreadyFriends, http.StatusConflict},
		{"missing", friends.ErrUserNotFound, http.StatusNotFound},
		{"storage", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newAPIHarness(t)
			h.friends.inviteErr = tc.err

			rec := h.do(t, http.MethodPost, "/api/friends/invite", h.tokenFor(t, "alice"), inviteRequest{To: "bob"})
			if rec.Code != tc.want {
				t.Fatalf("expected %d got %d", tc.want, rec.Code)
			}
			body := decodeBody[map[string]string](t, rec)
			if tc.want == http.StatusInternalServerError && body["error"] == tc.err.Error() {
				t.Fatal("internal errors must not leak to clients")
			}
		})
	}
}

func TestFriendHandlerAcceptAndDecline(t *testing.T) {
	h := newAPIHarness(t)
	token := h.tokenFor(t, "bob")
	h.friends.response = friends.Response{Status: models.StatusAccepted, Message: "invite accepted"}

	rec := h.do(t, http.MethodPut, "/api/friends/accept", token, respondRequest{From: "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	resp := decodeBody[friends.Response](t, rec)
	if resp.Status != models.StatusAccepted {
		t.Fatalf("unexpected response %+v", resp)
	}

	h.friends.response = friends.Response{Status: models.StatusAccepted, Message: "invite already accepted", AlreadyResolved: true}
	rec = h.do(t, http.MethodPut, "/api/friends/decline", token, respondRequest{From: "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected terminal re-response to be informational, got %d", rec.Code)
	}
	if resp := decodeBody[friends.Response](t, rec); !resp.AlreadyResolved {
		t.Fatalf("expected alreadyResolved flag, got %+v", resp)
	}

	h.friends.respondErr = friends.ErrInviteNotFound
	rec = h.do(t, http.MethodPut, "/api/friends/accept", token, respondRequest{From: "carol"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}

	want := []string{"accept:bob:alice", "decline:bob:alice", "accept:bob:carol"}
	if fmt.Sprint(h.friends.calls) != fmt.Sprint(want) {
		t.Fatalf("expected calls %v got %v", want, h.friends.calls)
	}

	rec = h.do(t, http.MethodPost, "/api/friends/accept", token, respondRequest{From: "alice"})
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", rec.Code)
	}
}

func TestFriendHandlerListIsSelfOnly(t *testing.T) {
	h := newAPIHarness(t)
	token := h.tokenFor(t, "alice")

	rec := h.do(t, http.MethodGet, "/api/friends/alice", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	body := decodeBody[map[string][]models.Profile](t, rec)
	if len(body["friends"]) != 1 || body["friends"][0].ID != "friend-1" {
		t.Fatalf("unexpected friends %v", body)
	}

	rec = h.do(t, http.MethodGet, "/api/friends/bob", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another user's list got %d", rec.Code)
	}
}

func TestFriendHandlerRequests(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/api/friends/requests", h.tokenFor(t, "bob"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	body := decodeBody[map[string][]models.Profile](t, rec)
	if len(body["requests"]) != 1 || body["requests"][0].Username != "carol" {
		t.Fatalf("unexpected requests %v", body)
	}
	if h.friends.calls[0] != "pending:bob" {
		t.Fatalf("expected pending lookup for caller, got %v", h.friends.calls)
	}
}

func TestFriendHandlerInviteEmail(t *testing.T) {
	h := newAPIHarness(t)
	token := h.tokenFor(t, "alice")

	rec := h.do(t, http.MethodPost, "/api/friends/invite-email", token, inviteEmailRequest{ToEmail: "friend@example.com"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", rec.Code)
	}
	if h.friends.calls[0] != "invite-email:alice:friend@example.com" {
		t.Fatalf("unexpected calls %v", h.friends.calls)
	}

	cases := []struct {
		err  error
		want int
	}{
		{friends.ErrInvalidEmail, http.StatusBadRequest},
		{friends.ErrAlreadyFriends, http.StatusConflict},
		{fmt.Errorf("%w: dial tcp: refused", friends.ErrMailDelivery), http.StatusBadGateway},
	}
	for _, tc := range cases {
		h.friends.emailErr = tc.err
		rec := h.do(t, http.MethodPost, "/api/friends/invite-email", token, inviteEmailRequest{ToEmail: "x@example.com"})
		if rec.Code != tc.want {
			t.Fatalf("%v: expected %d got %d", tc.err, tc.want, rec.Code)
		}
	}
}

func TestFriendHandlerRespondToken(t *testing.T) {
	h := newAPIHarness(t)
	h.friends.response = friends.Response{Status: models.StatusDeclined, Message: "invite declined"}

	rec := h.do(t, http.MethodGet, "/api/friends/respond/abc123/decline", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if h.friends.calls[0] != "respond-token:abc123:decline" {
		t.Fatalf("expected token and action from the path, got %v", h.friends.calls)
	}

	cases := []struct {
		err  error
		want int
	}{
		{friends.ErrTokenNotFound, http.StatusNotFound},
		{friends.ErrInvalidAction, http.StatusBadRequest},
		{friends.ErrRecipientNotRegistered, http.StatusConflict},
	}
	for _, tc := range cases {
		h.friends.tokenErr = tc.err
		rec := h.do(t, http.MethodGet, "/api/friends/respond/abc123/accept", "", nil)
		if rec.Code != tc.want {
			t.Fatalf("%v: expected %d got %d", tc.err, tc.want, rec.Code)
		}
		body := decodeBody[map[string]string](t, rec)
		if body["error"] != tc.err.Error() {
			t.Fatalf("expected error message %q got %q", tc.err.Error(), body["error"])
		}
	}
}
