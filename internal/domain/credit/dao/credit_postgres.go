package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/neo-publisher/internal/domain/credit/entity"
)

const purchaseColumns = `
	id, owner_id, package_slug, credits, amount_cents, currency, payment_method, status,
	qr_code, copy_paste, checkout_url, gateway_id, reference, created_at, updated_at, expires_at, completed_at`

// CreditPostgres implements Store for PostgreSQL
type CreditPostgres struct {
	pool *pgxpool.Pool
}

// NewCreditPostgres creates a new PostgreSQL credit store
func NewCreditPostgres(pool *pgxpool.Pool) *CreditPostgres {
	return &CreditPostgres{pool: pool}
}

// GetBalance retrieves the balance of an owner, zero when none was ever recorded
func (r *CreditPostgres) GetBalance(ctx context.Context, ownerID string) (*entity.Balance, error) {
	b := entity.Balance{OwnerID: ownerID}
	err := r.pool.QueryRow(ctx, `SELECT credits, updated_at FROM credit_balances WHERE owner_id = $1`, ownerID).
		Scan(&b.Credits, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying balance: %w", err)
	}
	return &b, nil
}

// Reserve deducts cost from the balance and records the reservation
func (r *CreditPostgres) Reserve(ctx context.Context, ownerID, reference, operation string, cost int64) (*entity.LedgerEntry, bool, error) {
	var entry *entity.LedgerEntry
	var created bool

	txErr := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		existing, err := getEntry(ctx, tx, reference, true)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status != entity.LedgerReleased {
			entry = existing
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO credit_balances (owner_id, credits, updated_at)
			VALUES ($1, 0, NOW())
			ON CONFLICT (owner_id) DO NOTHING
		`, ownerID)
		if err != nil {
			return fmt.Errorf("ensuring balance row: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE credit_balances
			SET credits = credits - $2, updated_at = NOW()
			WHERE owner_id = $1 AND credits >= $2
		`, ownerID, cost)
		if err != nil {
			return fmt.Errorf("deducting balance: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return entity.ErrInsufficientCredits
		}

		now := time.Now().UTC()
		e := &entity.LedgerEntry{
			ID:        uuid.New().String(),
			OwnerID:   ownerID,
			Reference: reference,
			Operation: operation,
			Delta:     -cost,
			Status:    entity.LedgerReserved,
			CreatedAt: now,
			UpdatedAt: now,
		}

		if existing != nil {
			e.ID = existing.ID
			e.CreatedAt = existing.CreatedAt
			_, err = tx.Exec(ctx, `
				UPDATE credit_ledger
				SET owner_id = $2, operation = $3, delta = $4, status = $5, updated_at = $6
				WHERE reference = $1
			`, reference, ownerID, operation, e.Delta, e.Status, now)
		} else {
			_, err = tx.Exec(ctx, `
				INSERT INTO credit_ledger (id, owner_id, reference, operation, delta, status, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, e.ID, e.OwnerID, e.Reference, e.Operation, e.Delta, e.Status, e.CreatedAt, e.UpdatedAt)
		}
		if err != nil {
			return fmt.Errorf("recording reservation: %w", err)
		}

		entry = e
		created = true
		return nil
	})
	if txErr != nil {
		var pgErr *pgconn.PgError
		if errors.As(txErr, &pgErr) && pgErr.Code == "23505" {
			return nil, false, entity.ErrChargeInProgress
		}
		return nil, false, txErr
	}

	return entry, created, nil
}

// Commit finalizes a reservation
func (r *CreditPostgres) Commit(ctx context.Context, reference string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE credit_ledger SET status = $2, updated_at = NOW()
		WHERE reference = $1 AND status = $3
	`, reference, entity.LedgerCommitted, entity.LedgerReserved)
	if err != nil {
		return fmt.Errorf("committing reservation: %w", err)
	}
	return nil
}

// Release refunds a reservation
func (r *CreditPostgres) Release(ctx context.Context, reference string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var ownerID string
		var delta int64
		err := tx.QueryRow(ctx, `
			UPDATE credit_ledger SET status = $2, updated_at = NOW()
			WHERE reference = $1 AND status = $3
			RETURNING owner_id, delta
		`, reference, entity.LedgerReleased, entity.LedgerReserved).Scan(&ownerID, &delta)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("releasing reservation: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE credit_balances SET credits = credits - $2, updated_at = NOW()
			WHERE owner_id = $1
		`, ownerID, delta)
		if err != nil {
			return fmt.Errorf("refunding balance: %w", err)
		}
		return nil
	})
}

// GetEntry retrieves a ledger entry by reference
func (r *CreditPostgres) GetEntry(ctx context.Context, reference string) (*entity.LedgerEntry, error) {
	return getEntry(ctx, r.pool, reference, false)
}

// CreatePurchase inserts a new purchase
func (r *CreditPostgres) CreatePurchase(ctx context.Context, p *entity.Purchase) error {
	query := `
		INSERT INTO credit_purchases (` + purchaseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := r.pool.Exec(ctx, query,
		p.ID,
		p.OwnerID,
		p.PackageSlug,
		p.Credits,
		p.AmountCents,
		p.Currency,
		p.PaymentMethod,
		p.Status,
		p.Instructions.QRCode,
		p.Instructions.CopyPaste,
		p.Instructions.CheckoutURL,
		p.GatewayID,
		p.Reference,
		p.CreatedAt,
		p.UpdatedAt,
		p.ExpiresAt,
		p.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting purchase: %w", err)
	}
	return nil
}

// GetPurchase retrieves a purchase by ID
func (r *CreditPostgres) GetPurchase(ctx context.Context, id string) (*entity.Purchase, error) {
	p, err := scanPurchase(r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM credit_purchases WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying purchase: %w", err)
	}
	return p, nil
}

// ListPurchases retrieves purchases, optionally by status
func (r *CreditPostgres) ListPurchases(ctx context.Context, status *entity.PurchaseStatus) ([]entity.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM credit_purchases WHERE 1=1`
	args := []interface{}{}
	if status != nil {
		query += ` AND status = $1`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying purchases: %w", err)
	}
	defer rows.Close()

	var purchases []entity.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning purchase: %w", err)
		}
		purchases = append(purchases, *p)
	}
	return purchases, rows.Err()
}

// CompletePurchase applies a terminal status to a pending purchase
func (r *CreditPostgres) CompletePurchase(ctx context.Context, id string, status entity.PurchaseStatus, at time.Time) (bool, error) {
	var applied bool

	txErr := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var ownerID string
		var credits int64
		err := tx.QueryRow(ctx, `
			UPDATE credit_purchases
			SET status = $2, completed_at = $3, updated_at = $3
			WHERE id = $1 AND status = $4
			RETURNING owner_id, credits
		`, id, status, at, entity.PurchasePending).Scan(&ownerID, &credits)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("completing purchase: %w", err)
		}
		applied = true

		if status != entity.PurchaseApproved {
			return nil
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO credit_ledger (id, owner_id, reference, operation, delta, status, created_at, updated_at)
			VALUES ($1, $2, $3, 'purchase', $4, $5, $6, $6)
			ON CONFLICT (reference) DO NOTHING
		`, uuid.New().String(), ownerID, "purchase:"+id, credits, entity.LedgerCommitted, at)
		if err != nil {
			return fmt.Errorf("recording purchase credit: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO credit_balances (owner_id, credits, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (owner_id) DO UPDATE SET
				credits = credit_balances.credits + EXCLUDED.credits,
				updated_at = EXCLUDED.updated_at
		`, ownerID, credits, at)
		if err != nil {
			return fmt.Errorf("crediting balance: %w", err)
		}
		return nil
	})
	if txErr != nil {
		return false, txErr
	}

	return applied, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getEntry(ctx context.Context, q querier, reference string, forUpdate bool) (*entity.LedgerEntry, error) {
	query := `
		SELECT id, owner_id, reference, operation, delta, status, created_at, updated_at
		FROM credit_ledger
		WHERE reference = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var e entity.LedgerEntry
	err := q.QueryRow(ctx, query, reference).Scan(
		&e.ID,
		&e.OwnerID,
		&e.Reference,
		&e.Operation,
		&e.Delta,
		&e.Status,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying ledger entry: %w", err)
	}
	return &e, nil
}

func scanPurchase(row pgx.Row) (*entity.Purchase, error) {
	var p entity.Purchase
	err := row.Scan(
		&p.ID,
		&p.OwnerID,
		&p.PackageSlug,
		&p.Credits,
		&p.AmountCents,
		&p.Currency,
		&p.PaymentMethod,
		&p.Status,
		&p.Instructions.QRCode,
		&p.Instructions.CopyPaste,
		&p.Instructions.CheckoutURL,
		&p.GatewayID,
		&p.Reference,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.ExpiresAt,
		&p.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
