package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatme/backend/internal/auth"
	"github.com/chatme/backend/internal/config"
	"github.com/chatme/backend/internal/db"
	"github.com/chatme/backend/internal/directory"
	"github.com/chatme/backend/internal/friends"
	"github.com/chatme/backend/internal/handlers"
	"github.com/chatme/backend/internal/mailer"
	"github.com/chatme/backend/internal/middleware"
	"github.com/chatme/backend/internal/presence"
	"github.com/chatme/backend/internal/realtime"
	"github.com/chatme/backend/internal/repositories"
	"github.com/chatme/backend/internal/router"
	"github.com/chatme/backend/internal/storage"
)

// dependencies holds the long-lived components built for serve.
type dependencies struct {
	handlers handlers.Dependencies
	gateway  *realtime.Gateway
	router   *router.Router
	sessions *repositories.PostgresSessionStore
}

// buildDependencies wires together concrete implementations used by the HTTP
// handlers and the realtime gateway.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (*dependencies, error) {
	users := repositories.NewPostgresUserRepository(pool)
	notifications := repositories.NewPostgresNotificationRepository(pool)
	sessionStore := repositories.NewPostgresSessionStore(pool)
	sessions := auth.NewManager([]byte(cfg.JWTSecret), cfg.AccessTTL, cfg.RefreshTTL, sessionStore)

	registry := presence.NewRegistry()
	rt := router.New(registry, notifications, router.Config{
		QueueSize: cfg.RouterQueueSize,
		Workers:   cfg.FallbackWorkers,
		Policy:    cfg.NotificationPolicy,
	}, logger.With("component", "router"))

	profiles := directory.New(users, cfg.ProfileCacheTTL)
	service := friends.NewService(friends.Deps{
		Users:         users,
		Friendships:   repositories.NewPostgresFriendRepository(pool),
		Invites:       repositories.NewPostgresInviteRepository(pool),
		Profiles:      profiles,
		Router:        rt,
		Mailer:        mailer.New(cfg.SMTP),
		PublicBaseURL: cfg.PublicBaseURL,
	})

	gateway := realtime.NewGateway(rt, service, sessions, realtime.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		SendBuffer:     cfg.SendBuffer,
	}, logger.With("component", "realtime"))

	deps := handlers.Dependencies{
		Users:          users,
		Sessions:       sessions,
		Verifier:       sessions,
		Friends:        service,
		Notifications:  notifications,
		MaxAvatarBytes: cfg.MaxAvatarBytes,
		Profiles:       profiles,
		Presence:       registry,
		RateLimiter:    middleware.NewIPRateLimiter(cfg.AuthRateRequests, cfg.AuthRateWindow, cfg.AuthRateBurst, 10*time.Minute),
		Realtime:       gateway,
	}

	if cfg.ObjectStore.Enabled() {
		avatars, err := storage.NewAvatarStore(ctx, cfg.ObjectStore)
		if err != nil {
			_ = rt.Shutdown(ctx)
			return nil, fmt.Errorf("configure avatar storage: %w", err)
		}
		deps.Avatars = avatars
	} else {
		logger.Info("avatar storage disabled, profile images will be ignored")
	}

	return &dependencies{handlers: deps, gateway: gateway, router: rt, sessions: sessionStore}, nil
}

type expiredSessionSweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// sweepSessions removes expired refresh tokens every interval until ctx ends.
func sweepSessions(ctx context.Context, store expiredSessionSweeper, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.DeleteExpired(ctx, now.UTC())
			if err != nil {
				logger.Warn("sweep expired sessions", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("expired sessions removed", "count", removed)
			}
		}
	}
}
