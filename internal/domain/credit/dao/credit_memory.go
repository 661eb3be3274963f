package dao

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vadim/neo-publisher/internal/domain/credit/entity"
)

// CreditMemory implements Store in memory
type CreditMemory struct {
	mu        sync.Mutex
	balances  map[string]*entity.Balance
	ledger    map[string]*entity.LedgerEntry
	purchases map[string]*entity.Purchase
}

// NewCreditMemory creates an empty in-memory credit store
func NewCreditMemory() *CreditMemory {
	return &CreditMemory{
		balances:  make(map[string]*entity.Balance),
		ledger:    make(map[string]*entity.LedgerEntry),
		purchases: make(map[string]*entity.Purchase),
	}
}

func (r *CreditMemory) GetBalance(ctx context.Context, ownerID string) (*entity.Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.balance(ownerID)
	c := *b
	return &c, nil
}

func (r *CreditMemory) Reserve(ctx context.Context, ownerID, reference, operation string, cost int64) (*entity.LedgerEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := r.ledger[reference]
	if ok && existing.Status != entity.LedgerReleased {
		c := *existing
		return &c, false, nil
	}

	b := r.balance(ownerID)
	if b.Credits < cost {
		return nil, false, entity.ErrInsufficientCredits
	}
	b.Credits -= cost
	b.UpdatedAt = now

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
	if ok {
		e.ID = existing.ID
		e.CreatedAt = existing.CreatedAt
	}
	r.ledger[reference] = e

	c := *e
	return &c, true, nil
}

func (r *CreditMemory) Commit(ctx context.Context, reference string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.ledger[reference]; ok && e.Status == entity.LedgerReserved {
		e.Status = entity.LedgerCommitted
		e.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *CreditMemory) Release(ctx context.Context, reference string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.ledger[reference]
	if !ok || e.Status != entity.LedgerReserved {
		return nil
	}
	e.Status = entity.LedgerReleased
	e.UpdatedAt = time.Now().UTC()

	b := r.balance(e.OwnerID)
	b.Credits -= e.Delta
	b.UpdatedAt = e.UpdatedAt
	return nil
}

func (r *CreditMemory) GetEntry(ctx context.Context, reference string) (*entity.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.ledger[reference]
	if !ok {
		return nil, nil
	}
	c := *e
	return &c, nil
}

func (r *CreditMemory) CreatePurchase(ctx context.Context, p *entity.Purchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *p
	r.purchases[p.ID] = &c
	return nil
}

func (r *CreditMemory) GetPurchase(ctx context.Context, id string) (*entity.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.purchases[id]
	if !ok {
		return nil, nil
	}
	c := *p
	return &c, nil
}

func (r *CreditMemory) ListPurchases(ctx context.Context, status *entity.PurchaseStatus) ([]entity.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []entity.Purchase
	for _, p := range r.purchases {
		if status != nil && p.Status != *status {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *CreditMemory) CompletePurchase(ctx context.Context, id string, status entity.PurchaseStatus, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.purchases[id]
	if !ok || !p.Status.CanTransitionTo(status) {
		return false, nil
	}
	p.Status = status
	p.CompletedAt = &at
	p.UpdatedAt = at

	if status == entity.PurchaseApproved {
		ref := p.CreditReference()
		if _, dup := r.ledger[ref]; !dup {
			b := r.balance(p.OwnerID)
			b.Credits += p.Credits
			b.UpdatedAt = at
			r.ledger[ref] = &entity.LedgerEntry{
				ID:        uuid.New().String(),
				OwnerID:   p.OwnerID,
				Reference: ref,
				Operation: "purchase",
				Delta:     p.Credits,
				Status:    entity.LedgerCommitted,
				CreatedAt: at,
				UpdatedAt: at,
			}
		}
	}
	return true, nil
}

// balance must be called with the lock held
func (r *CreditMemory) balance(ownerID string) *entity.Balance {
	b, ok := r.balances[ownerID]
	if !ok {
		b = &entity.Balance{OwnerID: ownerID}
		r.balances[ownerID] = b
	}
	return b
}
