package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// ShutdownTimeout controls how long to wait for graceful shutdowns.
var ShutdownTimeout = 10 * time.Second

// Stopper is a component stopped after the HTTP server during shutdown.
type Stopper struct {
	Name string
	Stop func(ctx context.Context) error
}

// Run serves until ctx is done or the server fails, then shuts the server
// down followed by each stopper in order, all within grace.
func Run(ctx context.Context, srv *Server, grace time.Duration, logger *slog.Logger, stoppers ...Stopper) error {
	if grace <= 0 {
		grace = ShutdownTimeout
	}

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()

	errs := []error{runErr}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "error", err)
		errs = append(errs, err)
	}
	for _, s := range stoppers {
		if err := s.Stop(shutdownCtx); err != nil {
			logger.Error("component shutdown", "component", s.Name, "error", err)
			errs = append(errs, err)
			continue
		}
		logger.Info("component stopped", "component", s.Name)
	}
	return errors.Join(errs...)
}
