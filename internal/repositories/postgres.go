package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chatme/backend/internal/db"
	"github.com/chatme/backend/internal/models"
)

// PostgresUserRepository provides PostgreSQL-backed persistence for users.
type PostgresUserRepository struct {
	pool db.Pool
}

// NewPostgresUserRepository constructs a user repository backed by PostgreSQL.
func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

const userColumns = `id, email, username, password_hash, avatar_url, created_at, updated_at`

// Create persists a new user record.
func (r *PostgresUserRepository) Create(ctx context.Context, user models.User) error {
	_, err := r.pool.Exec(ctx, `
        INSERT INTO users (id, email, username, password_hash, avatar_url, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, user.ID, user.Email, user.Username, user.Password, user.AvatarURL, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if mapped := translatePgError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// FindByEmail fetches a user by their email address.
func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user by email: %w", err)
	}
	return user, nil
}

// FindByID fetches a user by identifier.
func (r *PostgresUserRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user by id: %w", err)
	}
	return user, nil
}

// Search returns users whose username or email contains the query, ignoring case.
func (r *PostgresUserRepository) Search(ctx context.Context, query string, limit int) ([]models.User, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"

	rows, err := r.pool.Query(ctx, `
        SELECT `+userColumns+`
        FROM users
        WHERE username ILIKE $1 OR email ILIKE $1
        ORDER BY username
        LIMIT $2
    `, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	return collectUsers(rows)
}

// Update modifies an existing user record.
func (r *PostgresUserRepository) Update(ctx context.Context, user models.User) error {
	tag, err := r.pool.Exec(ctx, `
        UPDATE users
        SET email = $2, username = $3, password_hash = $4, avatar_url = $5, updated_at = $6
        WHERE id = $1
    `, user.ID, user.Email, user.Username, user.Password, user.AvatarURL, user.UpdatedAt)
	if err != nil {
		if mapped := translatePgError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("update user: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// PostgresFriendRepository provides PostgreSQL-backed persistence for friendships.
type PostgresFriendRepository struct {
	pool db.Pool
}

// NewPostgresFriendRepository constructs a friend repository backed by PostgreSQL.
func NewPostgresFriendRepository(pool db.Pool) *PostgresFriendRepository {
	return &PostgresFriendRepository{pool: pool}
}

// CreateRequest persists a pending request from request.UserID to
// request.FriendID. A previously declined row for the same ordered pair is
// reopened; any other existing row yields ErrConflict.
func (r *PostgresFriendRepository) CreateRequest(ctx context.Context, request models.Friendship) (models.Friendship, error) {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}

	row := r.pool.QueryRow(ctx, `
        INSERT INTO friendships (id, user_id, friend_id, status, created_at, responded_at)
        VALUES ($1, $2, $3, 'pending', $4, NULL)
        ON CONFLICT (user_id, friend_id) DO UPDATE
        SET status = 'pending', created_at = EXCLUDED.created_at, responded_at = NULL
        WHERE friendships.status = 'declined'
        RETURNING id
    `, request.ID, request.UserID, request.FriendID, request.CreatedAt)

	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Friendship{}, ErrConflict
		}
		if mapped := translatePgError(err); mapped != nil {
			return models.Friendship{}, mapped
		}
		return models.Friendship{}, fmt.Errorf("insert friendship: %w", err)
	}

	request.ID = id
	request.Status = models.StatusPending
	request.RespondedAt = nil
	return request, nil
}

// Between returns the rows linking the two users in either direction.
func (r *PostgresFriendRepository) Between(ctx context.Context, userA, userB string) ([]models.Friendship, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT id, user_id, friend_id, status, created_at, responded_at
        FROM friendships
        WHERE (user_id = $1 AND friend_id = $2) OR (user_id = $2 AND friend_id = $1)
    `, userA, userB)
	if err != nil {
		return nil, fmt.Errorf("query friendships: %w", err)
	}
	defer rows.Close()

	var out []models.Friendship
	for rows.Next() {
		var f models.Friendship
		if err := rows.Scan(&f.ID, &f.UserID, &f.FriendID, &f.Status, &f.CreatedAt, &f.RespondedAt); err != nil {
			return nil, fmt.Errorf("scan friendship: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friendships: %w", err)
	}

	return out, nil
}

// Accept moves the pending request requester→recipient to accepted and
// creates (or upgrades) the reciprocal row within one transaction. It returns
// ErrConflict when no pending request exists.
func (r *PostgresFriendRepository) Accept(ctx context.Context, requesterID, recipientID string, at time.Time) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin accept: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
        UPDATE friendships
        SET status = 'accepted', responded_at = $3
        WHERE user_id = $1 AND friend_id = $2 AND status = 'pending'
    `, requesterID, recipientID, at)
	if err != nil {
		return fmt.Errorf("accept friendship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	if err = upsertAccepted(ctx, tx, recipientID, requesterID, at); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit accept: %w", err)
	}
	return nil
}

// Decline moves the pending request requester→recipient to declined.
func (r *PostgresFriendRepository) Decline(ctx context.Context, requesterID, recipientID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
        UPDATE friendships
        SET status = 'declined', responded_at = $3
        WHERE user_id = $1 AND friend_id = $2 AND status = 'pending'
    `, requesterID, recipientID, at)
	if err != nil {
		return fmt.Errorf("decline friendship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// WithdrawRequest removes a request that is still pending. It returns
// ErrNotFound when the row was already answered or removed.
func (r *PostgresFriendRepository) WithdrawRequest(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
        DELETE FROM friendships
        WHERE id = $1 AND status = 'pending'
    `, id)
	if err != nil {
		return fmt.Errorf("withdraw friendship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListFriends returns the accepted friends of the user.
func (r *PostgresFriendRepository) ListFriends(ctx context.Context, userID string) ([]models.User, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT u.id, u.email, u.username, u.password_hash, u.avatar_url, u.created_at, u.updated_at
        FROM friendships f
        JOIN users u ON u.id = f.friend_id
        WHERE f.user_id = $1 AND f.status = 'accepted'
        ORDER BY u.username
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("query friends: %w", err)
	}
	defer rows.Close()

	return collectUsers(rows)
}

// ListIncoming returns the users with a pending request addressed to the user.
func (r *PostgresFriendRepository) ListIncoming(ctx context.Context, userID string) ([]models.User, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT u.id, u.email, u.username, u.password_hash, u.avatar_url, u.created_at, u.updated_at
        FROM friendships f
        JOIN users u ON u.id = f.user_id
        WHERE f.friend_id = $1 AND f.status = 'pending'
        ORDER BY f.created_at DESC
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("query incoming requests: %w", err)
	}
	defer rows.Close()

	return collectUsers(rows)
}

// upsertAccepted writes an accepted userID→friendID row, upgrading any
// existing row for the ordered pair.
func upsertAccepted(ctx context.Context, tx pgx.Tx, userID, friendID string, at time.Time) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO friendships (id, user_id, friend_id, status, created_at, responded_at)
        VALUES ($1, $2, $3, 'accepted', $4, $4)
        ON CONFLICT (user_id, friend_id) DO UPDATE
        SET status = 'accepted', responded_at = EXCLUDED.responded_at
    `, uuid.NewString(), userID, friendID, at)
	if err != nil {
		if mapped := translatePgError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("upsert accepted friendship: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Email, &user.Username, &user.Password, &user.AvatarURL, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func collectUsers(rows pgx.Rows) ([]models.User, error) {
	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var _ UserRepository = (*PostgresUserRepository)(nil)
var _ FriendRepository = (*PostgresFriendRepository)(nil)
