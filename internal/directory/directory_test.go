package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chatme/backend/internal/models"
)

type countingSource struct {
	calls int
	users map[string]models.User
}

func (s *countingSource) FindByID(_ context.Context, id string) (models.User, error) {
	s.calls++
	user, ok := s.users[id]
	if !ok {
		return models.User{}, errors.New("not found")
	}
	return user, nil
}

func TestDirectoryCachesWithinTTL(t *testing.T) {
	source := &countingSource{users: map[string]models.User{
		"alice": {ID: "alice", Username: "alice", Email: "a@example.com", Password: "hash"},
	}}
	dir := New(source, time.Minute)
	now := time.Now()
	dir.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		profile, err := dir.Profile(context.Background(), "alice")
		if err != nil {
			t.Fatalf("profile: %v", err)
		}
		if profile.Username != "alice" {
			t.Fatalf("unexpected profile %+v", profile)
		}
	}
	if source.calls != 1 {
		t.Fatalf("expected one backing lookup got %d", source.calls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := dir.Profile(context.Background(), "alice"); err != nil {
		t.Fatalf("profile after expiry: %v", err)
	}
	if source.calls != 2 {
		t.Fatalf("expected refresh after ttl got %d calls", source.calls)
	}

	dir.Invalidate("alice")
	if _, err := dir.Profile(context.Background(), "alice"); err != nil {
		t.Fatalf("profile after invalidate: %v", err)
	}
	if source.calls != 3 {
		t.Fatalf("expected lookup after invalidate got %d calls", source.calls)
	}
}

func TestDirectoryDoesNotCacheErrors(t *testing.T) {
	source := &countingSource{users: map[string]models.User{}}
	dir := New(source, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := dir.Profile(context.Background(), "ghost"); err == nil {
			t.Fatal("expected error for unknown user")
		}
	}
	if source.calls != 2 {
		t.Fatalf("expected errors to bypass the cache got %d calls", source.calls)
	}
}

func TestDirectoryWithoutSource(t *testing.T) {
	var dir *Directory
	if _, err := dir.Profile(context.Background(), "alice"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable got %v", err)
	}
}
