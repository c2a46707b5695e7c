// Package migrate applies the embedded goose migrations.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/chatme/backend/migrations"
)

const (
	maxRetries  = 3
	baseBackoff = 100 * time.Millisecond
	maxBackoff  = 3 * time.Second
)

var retryablePgErrorCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

// Up applies all pending migrations, retrying transient lock and
// serialization failures with exponential backoff.
func Up(ctx context.Context, databaseURL string) error {
	return withDB(databaseURL, func(db *sql.DB) error {
		var err error
		for attempt := 0; attempt < maxRetries; attempt++ {
			if attempt > 0 {
				if werr := wait(ctx, backoff(attempt)); werr != nil {
					return werr
				}
			}
			err = goose.UpContext(ctx, db, ".")
			if err == nil {
				return nil
			}
			if !ShouldRetry(err) {
				return fmt.Errorf("apply migrations: %w", err)
			}
		}
		return fmt.Errorf("apply migrations: exceeded max retries (%d): %w", maxRetries, err)
	})
}

// Status writes the applied/pending state of every migration to out.
func Status(ctx context.Context, databaseURL string, out io.Writer) error {
	return withDB(databaseURL, func(db *sql.DB) error {
		current, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		all, err := goose.CollectMigrations(".", 0, goose.MaxVersion)
		if err != nil {
			return fmt.Errorf("collect migrations: %w", err)
		}
		for _, m := range all {
			mark := " "
			if m.Version <= current {
				mark = "x"
			}
			fmt.Fprintf(out, "[%s] %05d %s\n", mark, m.Version, m.Source)
		}
		return nil
	})
}

func withDB(databaseURL string, fn func(*sql.DB) error) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return fn(db)
}

// ShouldRetry reports whether a migration failure is transient.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := retryablePgErrorCodes[pgErr.Code]; ok {
			return true
		}
	}

	return errors.Is(err, pgx.ErrTxClosed)
}

func backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * baseBackoff
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
