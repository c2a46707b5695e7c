package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chatme/backend/internal/config"
	"github.com/chatme/backend/internal/db"
	"github.com/chatme/backend/internal/handlers"
	"github.com/chatme/backend/internal/httpserver"
	"github.com/chatme/backend/internal/middleware"
	"github.com/chatme/backend/internal/migrate"
)

const sessionSweepInterval = time.Hour

// Run bootstraps the Chatme backend application.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected command: serve, migrate, or seed")
	}

	switch args[0] {
	case "serve":
		return serve(ctx, args[1:])
	case "migrate":
		return runMigrations(ctx, args[1:])
	case "seed":
		return runSeed(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func serve(ctx context.Context, args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	deps, err := buildDependencies(ctx, pool, cfg, logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, deps.handlers)

	handler := middleware.RequestLogger(logger)(mux)
	srv := httpserver.New(cfg.AppPort, handler)

	go sweepSessions(ctx, deps.sessions, sessionSweepInterval, logger)

	logger.Info("starting http server",
		"port", cfg.AppPort,
		"notificationPolicy", cfg.NotificationPolicy,
		"fallbackWorkers", cfg.FallbackWorkers,
	)

	// Stop accepting requests first, then close sockets, then drain the router.
	return httpserver.Run(ctx, srv, cfg.ShutdownGrace, logger,
		httpserver.Stopper{Name: "realtime", Stop: deps.gateway.Shutdown},
		httpserver.Stopper{Name: "router", Stop: deps.router.Shutdown},
	)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true, Level: lvl}))
}

func runMigrations(ctx context.Context, args []string) error {
	command := "up"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	cfg, err := config.Parse(args)
	if err != nil {
		return err
	}

	switch command {
	case "up":
		if err := migrate.Up(ctx, cfg.DatabaseURL); err != nil {
			return err
		}
		fmt.Println("migrations applied")
		return nil
	case "status":
		return migrate.Status(ctx, cfg.DatabaseURL, os.Stdout)
	case "down":
		return errors.New("down migrations are not supported")
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
}

func runSeed(ctx context.Context, args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return errors.New("expected seed name (e.g. dev)")
	}

	cfg, err := config.Parse(args[1:])
	if err != nil {
		return err
	}

	seedName := seedFileName(args[0])
	seedPath := filepath.Join(cfg.SeedDir, seedName)
	contents, err := os.ReadFile(seedPath)
	if err != nil {
		return fmt.Errorf("read seed %s: %w", seedName, err)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := applySeed(ctx, pool, string(contents)); err != nil {
		return fmt.Errorf("apply seed %s: %w", seedName, err)
	}

	fmt.Printf("applied seed %s\n", seedName)
	return nil
}

func seedFileName(name string) string {
	if strings.HasSuffix(name, ".sql") {
		return name
	}
	return name + "_seed.sql"
}

func applySeed(ctx context.Context, pool db.Pool, contents string) error {
	_, err := pool.Exec(ctx, contents)
	return err
}
