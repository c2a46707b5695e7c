package friends

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chatme/backend/internal/events"
	"github.com/chatme/backend/internal/mailer"
	"github.com/chatme/backend/internal/models"
	"github.com/chatme/backend/internal/repositories"
)

type memoryUsers struct {
	mu    sync.Mutex
	users map[string]models.User
}

func newMemoryUsers(users ...models.User) *memoryUsers {
	m := &memoryUsers{users: make(map[string]models.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memoryUsers) add(u models.User) {
	m.mu.Lock()
	m.users[u.ID] = u
	m.mu.Unlock()
}

func (m *memoryUsers) FindByID(_ context.Context, id string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, repositories.ErrNotFound
	}
	return u, nil
}

func (m *memoryUsers) FindByEmail(_ context.Context, email string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return models.User{}, repositories.ErrNotFound
}

type pair struct{ user, friend string }

type memoryFriendships struct {
	mu    sync.Mutex
	users *memoryUsers
	rows  map[pair]models.Friendship
}

func newMemoryFriendships(users *memoryUsers) *memoryFriendships {
	return &memoryFriendships{users: users, rows: make(map[pair]models.Friendship)}
}

func (m *memoryFriendships) CreateRequest(_ context.Context, f models.Friendship) (models.Friendship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pair{f.UserID, f.FriendID}
	if existing, ok := m.rows[key]; ok && existing.Status != models.StatusDeclined {
		return models.Friendship{}, repositories.ErrConflict
	}
	f.Status = models.StatusPending
	f.RespondedAt = nil
	m.rows[key] = f
	return f, nil
}

func (m *memoryFriendships) Between(_ context.Context, a, b string) ([]models.Friendship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Friendship
	for _, key := range []pair{{a, b}, {b, a}} {
		if row, ok := m.rows[key]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *memoryFriendships) Accept(_ context.Context, requesterID, recipientID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pair{requesterID, recipientID}
	row, ok := m.rows[key]
	if !ok || row.Status != models.StatusPending {
		return repositories.ErrConflict
	}
	m.upsertAcceptedLocked(requesterID, recipientID, at)
	m.upsertAcceptedLocked(recipientID, requesterID, at)
	return nil
}

func (m *memoryFriendships) upsertAcceptedLocked(userID, friendID string, at time.Time) {
	key := pair{userID, friendID}
	row, ok := m.rows[key]
	if !ok {
		row = models.Friendship{ID: userID + ">" + friendID, UserID: userID, FriendID: friendID, CreatedAt: at}
	}
	row.Status = models.StatusAccepted
	row.RespondedAt = &at
	m.rows[key] = row
}

func (m *memoryFriendships) Decline(_ context.Context, requesterID, recipientID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pair{requesterID, recipientID}
	row, ok := m.rows[key]
	if !ok || row.Status != models.StatusPending {
		return repositories.ErrConflict
	}
	row.Status = models.StatusDeclined
	row.RespondedAt = &at
	m.rows[key] = row
	return nil
}

func (m *memoryFriendships) WithdrawRequest(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, row := range m.rows {
		if row.ID == id && row.Status == models.StatusPending {
			delete(m.rows, key)
			return nil
		}
	}
	return repositories.ErrNotFound
}

func (m *memoryFriendships) list(match func(models.Friendship) (string, bool)) []models.User {
	m.mu.Lock()
	var ids []string
	for _, row := range m.rows {
		if id, ok := match(row); ok {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	sort.Strings(ids)

	var out []models.User
	for _, id := range ids {
		if u, err := m.users.FindByID(context.Background(), id); err == nil {
			out = append(out, u)
		}
	}
	return out
}

func (m *memoryFriendships) ListFriends(_ context.Context, userID string) ([]models.User, error) {
	return m.list(func(row models.Friendship) (string, bool) {
		return row.FriendID, row.UserID == userID && row.Status == models.StatusAccepted
	}), nil
}

func (m *memoryFriendships) ListIncoming(_ context.Context, userID string) ([]models.User, error) {
	return m.list(func(row models.Friendship) (string, bool) {
		return row.UserID, row.FriendID == userID && row.Status == models.StatusPending
	}), nil
}

func (m *memoryFriendships) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memoryInvites struct {
	mu      sync.Mutex
	friends *memoryFriendships
	tokens  map[string]models.InviteToken
}

func newMemoryInvites(friends *memoryFriendships) *memoryInvites {
	return &memoryInvites{friends: friends, tokens: make(map[string]models.InviteToken)}
}

func (m *memoryInvites) Create(_ context.Context, invite models.InviteToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[invite.Token]; ok {
		return repositories.ErrConflict
	}
	m.tokens[invite.Token] = invite
	return nil
}

func (m *memoryInvites) FindByToken(_ context.Context, token string) (models.InviteToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	invite, ok := m.tokens[token]
	if !ok {
		return models.InviteToken{}, repositories.ErrNotFound
	}
	return invite, nil
}

func (m *memoryInvites) resolve(token, status string, at time.Time) (models.InviteToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	invite, ok := m.tokens[token]
	if !ok || invite.Status != models.StatusPending {
		return models.InviteToken{}, repositories.ErrConflict
	}
	invite.Status = status
	invite.RespondedAt = &at
	m.tokens[token] = invite
	return invite, nil
}

func (m *memoryInvites) Accept(_ context.Context, token, recipientID string, at time.Time) error {
	invite, err := m.resolve(token, models.StatusAccepted, at)
	if err != nil {
		return err
	}
	if invite.SenderID != recipientID {
		m.friends.mu.Lock()
		m.friends.upsertAcceptedLocked(invite.SenderID, recipientID, at)
		m.friends.upsertAcceptedLocked(recipientID, invite.SenderID, at)
		m.friends.mu.Unlock()
	}
	return nil
}

func (m *memoryInvites) Decline(_ context.Context, token string, at time.Time) error {
	_, err := m.resolve(token, models.StatusDeclined, at)
	return err
}

func (m *memoryInvites) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[token]; !ok {
		return repositories.ErrNotFound
	}
	delete(m.tokens, token)
	return nil
}

func (m *memoryInvites) all() []models.InviteToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.InviteToken, 0, len(m.tokens))
	for _, invite := range m.tokens {
		out = append(out, invite)
	}
	return out
}

type memoryNotifications struct {
	mu    sync.Mutex
	items []models.Notification
	err   error
}

func (m *memoryNotifications) Create(_ context.Context, n models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.items = append(m.items, n)
	return nil
}

func (m *memoryNotifications) fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *memoryNotifications) forUser(userID string) []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for _, n := range m.items {
		if n.RecipientID == userID {
			out = append(out, n)
		}
	}
	return out
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.Invite
	err  error
}

func (m *recordingMailer) SendInvite(_ context.Context, invite mailer.Invite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, invite)
	return nil
}

type connHandle struct {
	id string

	mu       sync.Mutex
	received []events.Outbound
}

func (h *connHandle) ID() string { return h.id }

func (h *connHandle) Push(ev events.Outbound) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, ev)
	return nil
}

func (h *connHandle) kinds() []events.Kind {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]events.Kind, 0, len(h.received))
	for _, ev := range h.received {
		out = append(out, ev.Kind())
	}
	return out
}
