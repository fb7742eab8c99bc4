package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const createSessionsTable = `CREATE TABLE IF NOT EXISTS auth_sessions (
	name          text PRIMARY KEY,
	access_token  text NOT NULL,
	refresh_token text NOT NULL,
	expires_at    timestamptz,
	user_id       text NOT NULL DEFAULT '',
	updated_at    timestamptz NOT NULL DEFAULT now()
)`

// PostgresStore keeps the session as one named row of auth_sessions. The db
// is expected to be opened with the pgx stdlib driver.
type PostgresStore struct {
	DB   *sql.DB
	name string
}

func NewPostgresStore(db *sql.DB, name string) *PostgresStore {
	return &PostgresStore{
		DB:   db,
		name: name,
	}
}

func (r *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := r.DB.ExecContext(ctx, createSessionsTable); err != nil {
		return fmt.Errorf("session/repo: failed creating auth_sessions, %w", err)
	}
	return nil
}

func (r *PostgresStore) Load(ctx context.Context) (*Session, error) {
	q := `SELECT access_token, refresh_token, expires_at, user_id FROM auth_sessions WHERE name = $1`
	row := r.DB.QueryRowContext(ctx, q, r.name)

	s := new(Session)
	var exp sql.NullTime
	err := row.Scan(&s.AccessToken, &s.RefreshToken, &exp, &s.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("session/repo: failed reading session %q, %w", r.name, err)
	}
	if exp.Valid {
		s.ExpiresAt = exp.Time.Unix()
	}
	return s, nil
}

func (r *PostgresStore) Save(ctx context.Context, s *Session) error {
	var exp sql.NullTime
	if s.ExpiresAt != 0 {
		exp = sql.NullTime{Time: time.Unix(s.ExpiresAt, 0).UTC(), Valid: true}
	}

	q := `INSERT INTO auth_sessions(name, access_token, refresh_token, expires_at, user_id, updated_at)
		VALUES($1, $2, $3, $4, $5, now())
		ON CONFLICT (name) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			user_id = EXCLUDED.user_id,
			updated_at = now()`
	_, err := r.DB.ExecContext(ctx, q, r.name, s.AccessToken, s.RefreshToken, exp, s.UserID)
	if err != nil {
		return fmt.Errorf("session/repo: failed upserting session %q, %w", r.name, err)
	}
	return nil
}

func (r *PostgresStore) Clear(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, "DELETE FROM auth_sessions WHERE name = $1", r.name)
	if err != nil {
		return fmt.Errorf("session/repo: failed deleting session %q, %w", r.name, err)
	}
	return nil
}
