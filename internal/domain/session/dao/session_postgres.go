package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/neo-publisher/internal/domain/platform"
	"github.com/vadim/neo-publisher/internal/domain/session/entity"
)

const sessionColumns = `
	platform, account, state, token, refresh_token, remote_user_id, token_expiry,
	expires_at, last_used_at, reason, oauth_state, created_at, updated_at`

// SessionPostgres implements SessionRepository for PostgreSQL
type SessionPostgres struct {
	pool *pgxpool.Pool
}

// NewSessionPostgres creates a new PostgreSQL session repository
func NewSessionPostgres(pool *pgxpool.Pool) *SessionPostgres {
	return &SessionPostgres{pool: pool}
}

// Get retrieves the session of an account
func (r *SessionPostgres) Get(ctx context.Context, p platform.Platform, account string) (*entity.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM platform_sessions WHERE platform = $1 AND account = $2`, p, account)
	return scanSessionRow(row)
}

// GetMostRecent retrieves the most recently used authorized session of a platform
func (r *SessionPostgres) GetMostRecent(ctx context.Context, p platform.Platform) (*entity.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM platform_sessions
		WHERE platform = $1 AND state = $2
		ORDER BY last_used_at DESC NULLS LAST, updated_at DESC
		LIMIT 1
	`
	return scanSessionRow(r.pool.QueryRow(ctx, query, p, entity.StateAuthorized))
}

// GetByOAuthState retrieves the session awaiting the given oauth state
func (r *SessionPostgres) GetByOAuthState(ctx context.Context, state string) (*entity.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM platform_sessions WHERE oauth_state = $1`, state)
	return scanSessionRow(row)
}

// List retrieves sessions, optionally for one platform
func (r *SessionPostgres) List(ctx context.Context, p *platform.Platform) ([]entity.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM platform_sessions WHERE 1=1`
	args := []interface{}{}
	if p != nil {
		query += ` AND platform = $1`
		args = append(args, *p)
	}
	query += ` ORDER BY platform, account`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []entity.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, *s)
	}

	return sessions, rows.Err()
}

// Upsert creates or replaces the session of an account
func (r *SessionPostgres) Upsert(ctx context.Context, s *entity.Session) error {
	query := `
		INSERT INTO platform_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13)
		ON CONFLICT (platform, account) DO UPDATE SET
			state = EXCLUDED.state,
			token = EXCLUDED.token,
			refresh_token = EXCLUDED.refresh_token,
			remote_user_id = EXCLUDED.remote_user_id,
			token_expiry = EXCLUDED.token_expiry,
			expires_at = EXCLUDED.expires_at,
			last_used_at = EXCLUDED.last_used_at,
			reason = EXCLUDED.reason,
			oauth_state = EXCLUDED.oauth_state,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.pool.Exec(ctx, query,
		s.Platform,
		s.Account,
		s.State,
		s.Token,
		s.RefreshToken,
		s.RemoteUserID,
		s.TokenExpiry,
		s.ExpiresAt,
		s.LastUsedAt,
		s.Reason,
		s.OAuthState,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}
	return nil
}

// Touch records a use of an authorized session
func (r *SessionPostgres) Touch(ctx context.Context, p platform.Platform, account string, at time.Time) error {
	query := `
		UPDATE platform_sessions
		SET last_used_at = $3
		WHERE platform = $1 AND account = $2 AND state = 'authorized'
	`
	if _, err := r.pool.Exec(ctx, query, p, account, at); err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

func scanSessionRow(row pgx.Row) (*entity.Session, error) {
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return s, nil
}

func scanSession(row pgx.Row) (*entity.Session, error) {
	var s entity.Session
	var oauthState *string
	err := row.Scan(
		&s.Platform,
		&s.Account,
		&s.State,
		&s.Token,
		&s.RefreshToken,
		&s.RemoteUserID,
		&s.TokenExpiry,
		&s.ExpiresAt,
		&s.LastUsedAt,
		&s.Reason,
		&oauthState,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if oauthState != nil {
		s.OAuthState = *oauthState
	}
	return &s, nil
}
