package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const userColumns = `id, email, password_hash, display_name, photo_url, email_verified, oidc_subject, created_at, last_login_at`

// userRepo implements UserRepository.
type userRepo struct {
	pool querier
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.PhotoURL, &u.EmailVerified, &u.OIDCSubject, &u.CreatedAt, &u.LastLoginAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (r *userRepo) Create(ctx context.Context, user User) (*User, error) {
	defer observeDB(ctx, "users.create")()
	const q = `INSERT INTO users (email, password_hash, display_name, photo_url, email_verified, oidc_subject)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + userColumns
	created, err := scanUser(r.pool.QueryRow(ctx, q, user.Email, user.PasswordHash, user.DisplayName, user.PhotoURL, user.EmailVerified, user.OIDCSubject))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

func (r *userRepo) GetByID(ctx context.Context, id int64) (*User, error) {
	defer observeDB(ctx, "users.get_by_id")()
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*User, error) {
	defer observeDB(ctx, "users.get_by_email")()
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, email))
}

func (r *userRepo) GetBySubject(ctx context.Context, subject string) (*User, error) {
	defer observeDB(ctx, "users.get_by_subject")()
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE oidc_subject=$1`, subject))
}

func (r *userRepo) LinkSubject(ctx context.Context, id int64, subject string) error {
	defer observeDB(ctx, "users.link_subject")()
	tag, err := r.pool.Exec(ctx, `UPDATE users SET oidc_subject=$2, email_verified=TRUE WHERE id=$1`, id, subject)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("link subject: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepo) UpdateProfile(ctx context.Context, id int64, displayName, photoURL string) error {
	defer observeDB(ctx, "users.update_profile")()
	tag, err := r.pool.Exec(ctx, `UPDATE users SET display_name=$2, photo_url=$3 WHERE id=$1`, id, displayName, photoURL)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepo) TouchLastLogin(ctx context.Context, id int64) (*User, error) {
	defer observeDB(ctx, "users.touch_last_login")()
	return scanUser(r.pool.QueryRow(ctx, `UPDATE users SET last_login_at=NOW() WHERE id=$1 RETURNING `+userColumns, id))
}

// sessionRepo implements SessionRepository.
type sessionRepo struct {
	pool querier
}

func (r *sessionRepo) Get(ctx context.Context, clientID string) (*ProviderSession, error) {
	defer observeDB(ctx, "sessions.get")()
	const q = `UPDATE provider_sessions SET last_seen_at=NOW() WHERE client_id=$1
RETURNING client_id, user_id, user_agent, ip_address, created_at, last_seen_at`
	var s ProviderSession
	err := r.pool.QueryRow(ctx, q, clientID).Scan(&s.ClientID, &s.UserID, &s.UserAgent, &s.IPAddress, &s.CreatedAt, &s.LastSeenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

func (r *sessionRepo) Upsert(ctx context.Context, session ProviderSession) error {
	defer observeDB(ctx, "sessions.upsert")()
	const q = `INSERT INTO provider_sessions (client_id, user_id, user_agent, ip_address)
VALUES ($1, $2, $3, $4)
ON CONFLICT (client_id) DO UPDATE SET user_id=EXCLUDED.user_id, user_agent=EXCLUDED.user_agent,
	ip_address=EXCLUDED.ip_address, created_at=NOW(), last_seen_at=NOW()`
	if _, err := r.pool.Exec(ctx, q, session.ClientID, session.UserID, session.UserAgent, session.IPAddress); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (r *sessionRepo) Delete(ctx context.Context, clientID string) error {
	defer observeDB(ctx, "sessions.delete")()
	if _, err := r.pool.Exec(ctx, `DELETE FROM provider_sessions WHERE client_id=$1`, clientID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *sessionRepo) ListByUser(ctx context.Context, userID int64) ([]ProviderSession, error) {
	defer observeDB(ctx, "sessions.list_by_user")()
	const q = `SELECT client_id, user_id, user_agent, ip_address, created_at, last_seen_at
FROM provider_sessions WHERE user_id=$1 ORDER BY last_seen_at DESC`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var result []ProviderSession
	for rows.Next() {
		var s ProviderSession
		if err := rows.Scan(&s.ClientID, &s.UserID, &s.UserAgent, &s.IPAddress, &s.CreatedAt, &s.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *sessionRepo) DeleteByUserExcept(ctx context.Context, userID int64, keepClientID string) ([]string, error) {
	defer observeDB(ctx, "sessions.delete_by_user_except")()
	rows, err := r.pool.Query(ctx, `DELETE FROM provider_sessions WHERE user_id=$1 AND client_id<>$2 RETURNING client_id`, userID, keepClientID)
	if err != nil {
		return nil, fmt.Errorf("revoke sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan revoked session: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
