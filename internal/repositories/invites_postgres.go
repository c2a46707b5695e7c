package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chatme/backend/internal/db"
	"github.com/chatme/backend/internal/models"
)

// PostgresInviteRepository persists email invite tokens.
type PostgresInviteRepository struct {
	pool db.Pool
}

// NewPostgresInviteRepository constructs an invite repository backed by PostgreSQL.
func NewPostgresInviteRepository(pool db.Pool) *PostgresInviteRepository {
	return &PostgresInviteRepository{pool: pool}
}

// Create stores a new invite token.
func (r *PostgresInviteRepository) Create(ctx context.Context, invite models.InviteToken) error {
	_, err := r.pool.Exec(ctx, `
        INSERT INTO invite_tokens (id, sender_id, recipient_email, token, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, invite.ID, invite.SenderID, invite.RecipientEmail, invite.Token, invite.Status, invite.CreatedAt)
	if err != nil {
		if mapped := translatePgError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("insert invite token: %w", err)
	}
	return nil
}

// FindByToken loads the invite carrying the token.
func (r *PostgresInviteRepository) FindByToken(ctx context.Context, token string) (models.InviteToken, error) {
	row := r.pool.QueryRow(ctx, `
        SELECT id, sender_id, recipient_email, token, status, created_at, responded_at
        FROM invite_tokens
        WHERE token = $1
    `, token)

	var invite models.InviteToken
	if err := row.Scan(&invite.ID, &invite.SenderID, &invite.RecipientEmail, &invite.Token, &invite.Status, &invite.CreatedAt, &invite.RespondedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.InviteToken{}, ErrNotFound
		}
		return models.InviteToken{}, fmt.Errorf("select invite token: %w", err)
	}
	return invite, nil
}

// Accept marks a pending token accepted and links sender and recipient as
// friends in the same transaction. ErrConflict means the token was no longer
// pending.
func (r *PostgresInviteRepository) Accept(ctx context.Context, token, recipientID string, at time.Time) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin token accept: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var senderID string
	row := tx.QueryRow(ctx, `
        UPDATE invite_tokens
        SET status = 'accepted', responded_at = $2
        WHERE token = $1 AND status = 'pending'
        RETURNING sender_id
    `, token, at)
	if err = row.Scan(&senderID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = ErrConflict
			return err
		}
		return fmt.Errorf("accept invite token: %w", err)
	}

	if senderID != recipientID {
		if err = upsertAccepted(ctx, tx, senderID, recipientID, at); err != nil {
			return err
		}
		if err = upsertAccepted(ctx, tx, recipientID, senderID, at); err != nil {
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit token accept: %w", err)
	}
	return nil
}

// Decline marks a pending token declined.
func (r *PostgresInviteRepository) Decline(ctx context.Context, token string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
        UPDATE invite_tokens
        SET status = 'declined', responded_at = $2
        WHERE token = $1 AND status = 'pending'
    `, token, at)
	if err != nil {
		return fmt.Errorf("decline invite token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// Delete removes a token, used when its invitation email could not be sent.
func (r *PostgresInviteRepository) Delete(ctx context.Context, token string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM invite_tokens WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("delete invite token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PostgresNotificationRepository persists fallback notifications.
type PostgresNotificationRepository struct {
	pool db.Pool
}

// NewPostgresNotificationRepository constructs a notification repository backed by PostgreSQL.
func NewPostgresNotificationRepository(pool db.Pool) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{pool: pool}
}

// Create stores a notification.
func (r *PostgresNotificationRepository) Create(ctx context.Context, n models.Notification) error {
	_, err := r.pool.Exec(ctx, `
        INSERT INTO notifications (id, recipient_id, sender_id, kind, message, read, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, n.ID, n.RecipientID, n.SenderID, n.Kind, n.Message, n.Read, n.CreatedAt)
	if err != nil {
		if mapped := translatePgError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListForUser returns the user's notifications, newest first.
func (r *PostgresNotificationRepository) ListForUser(ctx context.Context, userID string) ([]models.Notification, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT id, recipient_id, sender_id, kind, message, read, created_at
        FROM notifications
        WHERE recipient_id = $1
        ORDER BY created_at DESC
        LIMIT 200
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.SenderID, &n.Kind, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

// MarkRead flags a notification owned by recipientID as read.
func (r *PostgresNotificationRepository) MarkRead(ctx context.Context, id, recipientID string) error {
	tag, err := r.pool.Exec(ctx, `
        UPDATE notifications
        SET read = TRUE
        WHERE id = $1 AND recipient_id = $2
    `, id, recipientID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ InviteRepository = (*PostgresInviteRepository)(nil)
var _ NotificationRepository = (*PostgresNotificationRepository)(nil)
