package dao

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/neo-publisher/internal/domain/platform"
	"github.com/vadim/neo-publisher/internal/domain/session/entity"
)

// ChallengePostgres implements ChallengeRepository for PostgreSQL
type ChallengePostgres struct {
	pool *pgxpool.Pool
}

// NewChallengePostgres creates a new PostgreSQL challenge repository
func NewChallengePostgres(pool *pgxpool.Pool) *ChallengePostgres {
	return &ChallengePostgres{pool: pool}
}

// Get retrieves the outstanding challenge of an account
func (r *ChallengePostgres) Get(ctx context.Context, p platform.Platform, account string) (*entity.Challenge, error) {
	query := `
		SELECT id, platform, account, kind, remote_id, attempts_remaining, created_at, expires_at, last_sent_at
		FROM login_challenges
		WHERE platform = $1 AND account = $2
	`

	var c entity.Challenge
	err := r.pool.QueryRow(ctx, query, p, account).Scan(
		&c.ID,
		&c.Platform,
		&c.Account,
		&c.Kind,
		&c.RemoteID,
		&c.AttemptsRemaining,
		&c.CreatedAt,
		&c.ExpiresAt,
		&c.LastSentAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying challenge: %w", err)
	}

	return &c, nil
}

// Save creates or replaces the challenge of an account
func (r *ChallengePostgres) Save(ctx context.Context, c *entity.Challenge) error {
	query := `
		INSERT INTO login_challenges (id, platform, account, kind, remote_id, attempts_remaining, created_at, expires_at, last_sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (platform, account) DO UPDATE SET
			id = EXCLUDED.id,
			kind = EXCLUDED.kind,
			remote_id = EXCLUDED.remote_id,
			attempts_remaining = EXCLUDED.attempts_remaining,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			last_sent_at = EXCLUDED.last_sent_at
	`

	_, err := r.pool.Exec(ctx, query,
		c.ID,
		c.Platform,
		c.Account,
		c.Kind,
		c.RemoteID,
		c.AttemptsRemaining,
		c.CreatedAt,
		c.ExpiresAt,
		c.LastSentAt,
	)
	if err != nil {
		return fmt.Errorf("saving challenge: %w", err)
	}
	return nil
}

// Delete removes the challenge of an account
func (r *ChallengePostgres) Delete(ctx context.Context, p platform.Platform, account string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM login_challenges WHERE platform = $1 AND account = $2`, p, account)
	if err != nil {
		return fmt.Errorf("deleting challenge: %w", err)
	}
	return nil
}
