package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/campusfriends/backend/internal/auth"
	"github.com/campusfriends/backend/internal/models"
	"github.com/campusfriends/backend/internal/repositories"
)

// UserRepository persists users in SQLite.
type UserRepository struct {
	sqlDB *sql.DB
}

// Create persists a new user record.
func (r *UserRepository) Create(ctx context.Context, user models.User) error {
	_, err := r.sqlDB.ExecContext(ctx, `
INSERT INTO users (id, email, username, full_name, password_hash, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.Username, user.FullName, user.Password, toMillis(user.CreatedAt), toMillis(user.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return repositories.ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// FindByEmail fetches a user by their email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return r.findOne(ctx, "email", email)
}

// FindByID fetches a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	return r.findOne(ctx, "id", id)
}

func (r *UserRepository) findOne(ctx context.Context, column, value string) (models.User, error) {
	row := r.sqlDB.QueryRowContext(ctx, `
SELECT id, email, username, full_name, password_hash, created_at, updated_at
FROM users
WHERE `+column+` = ?`, value)

	var (
		user                 models.User
		createdAt, updatedAt int64
	)
	if err := row.Scan(&user.ID, &user.Email, &user.Username, &user.FullName, &user.Password, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, repositories.ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user by %s: %w", column, err)
	}
	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)
	return user, nil
}

// Update modifies an existing user record.
func (r *UserRepository) Update(ctx context.Context, user models.User) error {
	res, err := r.sqlDB.ExecContext(ctx, `
UPDATE users
SET email = ?, username = ?, full_name = ?, password_hash = ?, updated_at = ?
WHERE id = ?`,
		user.Email, user.Username, user.FullName, user.Password, toMillis(user.UpdatedAt), user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return repositories.ErrConflict
		}
		return fmt.Errorf("update user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

// SessionStore persists refresh tokens in SQLite.
type SessionStore struct {
	sqlDB *sql.DB
}

// Save stores or updates a session record.
func (s *SessionStore) Save(ctx context.Context, session auth.Session) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO sessions (refresh_token, user_id, expires_at)
VALUES (?, ?, ?)
ON CONFLICT (refresh_token)
DO UPDATE SET user_id = excluded.user_id, expires_at = excluded.expires_at`,
		session.RefreshToken, session.UserID, toMillis(session.ExpiresAt))
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// Find loads a session by its refresh token.
func (s *SessionStore) Find(ctx context.Context, refreshToken string) (auth.Session, error) {
	var (
		session   auth.Session
		expiresAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT refresh_token, user_id, expires_at FROM sessions WHERE refresh_token = ?`, refreshToken).
		Scan(&session.RefreshToken, &session.UserID, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.Session{}, auth.ErrSessionNotFound
		}
		return auth.Session{}, fmt.Errorf("select session: %w", err)
	}
	session.ExpiresAt = fromMillis(expiresAt)
	return session, nil
}

// Delete removes a session by its refresh token.
func (s *SessionStore) Delete(ctx context.Context, refreshToken string) error {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE refresh_token = ?`, refreshToken)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return auth.ErrSessionNotFound
	}
	return nil
}

// PurgeExpired removes sessions that expired before now and reports how many were removed.
func (s *SessionStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("purge expired sessions: %w", err)
	}
	return res.RowsAffected()
}

var (
	_ repositories.UserRepository = (*UserRepository)(nil)
	_ auth.SessionStore           = (*SessionStore)(nil)
)
