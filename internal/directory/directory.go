// Package directory resolves user ids to public profiles with a short-lived
// in-memory cache in front of the user store.
package directory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chatme/backend/internal/models"
)

// ErrUnavailable is returned when the directory has no backing store.
var ErrUnavailable = errors.New("user directory unavailable")

// UserSource loads users by id.
type UserSource interface {
	FindByID(ctx context.Context, id string) (models.User, error)
}

type cacheEntry struct {
	profile models.Profile
	expires time.Time
}

// Directory caches profile lookups for a fixed TTL.
type Directory struct {
	base UserSource
	ttl  time.Duration
	now  func() time.Time

	mu    sync.RWMutex
	items map[string]cacheEntry
}

// New returns a Directory that caches lookups for the provided TTL.
func New(base UserSource, ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Directory{
		base:  base,
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]cacheEntry),
	}
}

// Profile returns the cached profile when fresh, otherwise it loads the user
// from the backing store and caches the result. Lookup errors are not cached.
func (d *Directory) Profile(ctx context.Context, userID string) (models.Profile, error) {
	if d == nil || d.base == nil {
		return models.Profile{}, ErrUnavailable
	}

	now := d.now()

	d.mu.RLock()
	entry, ok := d.items[userID]
	d.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.profile, nil
	}

	user, err := d.base.FindByID(ctx, userID)
	if err != nil {
		return models.Profile{}, err
	}
	profile := user.Profile()

	d.mu.Lock()
	d.items[userID] = cacheEntry{profile: profile, expires: now.Add(d.ttl)}
	if len(d.items) > 4096 {
		d.evictExpiredLocked(now)
	}
	d.mu.Unlock()

	return profile, nil
}

// Invalidate drops the cached profile of userID, used after profile updates.
func (d *Directory) Invalidate(userID string) {
	d.mu.Lock()
	delete(d.items, userID)
	d.mu.Unlock()
}

func (d *Directory) evictExpiredLocked(now time.Time) {
	for id, entry := range d.items {
		if !now.Before(entry.expires) {
			delete(d.items, id)
		}
	}
}
