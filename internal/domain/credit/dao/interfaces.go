package dao

import (
	"context"
	"time"

	"github.com/vadim/neo-publisher/internal/domain/credit/entity"
)

// Store defines the interface for credit persistence.
// Every balance change and its ledger row are written atomically.
type Store interface {
	GetBalance(ctx context.Context, ownerID string) (*entity.Balance, error)

	// Reserve deducts cost and records a reserved ledger entry under reference.
	// When reference already exists the stored entry is returned with created=false.
	// A released entry is reserved again.
	Reserve(ctx context.Context, ownerID, reference, operation string, cost int64) (entry *entity.LedgerEntry, created bool, err error)
	Commit(ctx context.Context, reference string) error
	// Release refunds a reserved entry. Releasing anything else is a no-op.
	Release(ctx context.Context, reference string) error
	GetEntry(ctx context.Context, reference string) (*entity.LedgerEntry, error)

	CreatePurchase(ctx context.Context, p *entity.Purchase) error
	GetPurchase(ctx context.Context, id string) (*entity.Purchase, error)
	ListPurchases(ctx context.Context, status *entity.PurchaseStatus) ([]entity.Purchase, error)

	// CompletePurchase moves a pending purchase to status. Approval credits the balance
	// in the same transaction under the purchase credit reference.
	// Returns false when the purchase was no longer pending.
	CompletePurchase(ctx context.Context, id string, status entity.PurchaseStatus, at time.Time) (bool, error)
}
